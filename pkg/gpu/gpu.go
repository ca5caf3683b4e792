// Package gpu enumerates physical GPUs and parses the GPU spec grammar
// used by --gpus flags and the /gpus/allowed endpoint.
package gpu

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/AndPuQing/gflow/pkg/models"
)

// Probe enumerates physical GPUs, returning an ordered list of opaque
// identifiers. Vendor discovery (nvidia-smi, NVML) sits behind this
// interface and is never touched by the scheduler directly.
type Probe interface {
	Detect() ([]models.GPUID, error)
}

// StaticProbe reports a fixed set of GPUs, useful for tests and for
// hosts where the count is supplied through configuration instead of
// live discovery.
type StaticProbe struct {
	IDs []models.GPUID
}

func (p StaticProbe) Detect() ([]models.GPUID, error) {
	out := make([]models.GPUID, len(p.IDs))
	copy(out, p.IDs)
	return out, nil
}

// NvidiaSMIProbe detects GPUs by shelling out to `nvidia-smi -L`, one line
// per device ("GPU 0: ..."). If nvidia-smi is missing or exits nonzero the
// host is treated as GPU-less rather than an error, since gflowd must
// still start on CPU-only hosts.
type NvidiaSMIProbe struct {
	Bin string
}

func (p NvidiaSMIProbe) bin() string {
	if p.Bin != "" {
		return p.Bin
	}
	return "nvidia-smi"
}

func (p NvidiaSMIProbe) Detect() ([]models.GPUID, error) {
	cmd := exec.CommandContext(context.Background(), p.bin(), "-L")
	out, err := cmd.Output()
	if err != nil {
		return nil, nil
	}

	var ids []models.GPUID
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "GPU ") {
			continue
		}
		rest := strings.TrimPrefix(line, "GPU ")
		colon := strings.IndexByte(rest, ':')
		if colon < 0 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(rest[:colon]))
		if err != nil {
			continue
		}
		ids = append(ids, models.GPUID(n))
	}
	return ids, nil
}

// ParseSpec parses the grammar `all | item(,item)*` where
// `item := N | N-M`, returning a sorted, de-duplicated set of GPU ids.
// "all" must be resolved by the caller against the detected set; ParseSpec
// returns nil ids with all=true for that literal so callers can
// special-case it.
func ParseSpec(spec string) (ids []models.GPUID, all bool, err error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, false, &models.ValidationError{Field: "gpus", Detail: "empty spec"}
	}
	if strings.EqualFold(spec, "all") {
		return nil, true, nil
	}

	seen := make(map[int]struct{})
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, false, &models.ValidationError{Field: "gpus", Detail: "empty item in list"}
		}
		if dash := strings.IndexByte(item, '-'); dash >= 0 {
			lo, err := strconv.Atoi(strings.TrimSpace(item[:dash]))
			if err != nil {
				return nil, false, &models.ValidationError{Field: "gpus", Detail: fmt.Sprintf("invalid range start %q", item)}
			}
			hi, err := strconv.Atoi(strings.TrimSpace(item[dash+1:]))
			if err != nil {
				return nil, false, &models.ValidationError{Field: "gpus", Detail: fmt.Sprintf("invalid range end %q", item)}
			}
			if lo > hi {
				return nil, false, &models.ValidationError{Field: "gpus", Detail: fmt.Sprintf("range start exceeds end: %q", item)}
			}
			for i := lo; i <= hi; i++ {
				seen[i] = struct{}{}
			}
		} else {
			n, err := strconv.Atoi(item)
			if err != nil {
				return nil, false, &models.ValidationError{Field: "gpus", Detail: fmt.Sprintf("invalid GPU index %q", item)}
			}
			seen[n] = struct{}{}
		}
	}

	out := make([]models.GPUID, 0, len(seen))
	for n := range seen {
		out = append(out, models.GPUID(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, false, nil
}
