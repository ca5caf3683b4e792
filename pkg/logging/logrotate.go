package logging

import "fmt"

// GenerateLogrotateConfig renders a logrotate(8) config for one gflow
// component's log directory under /var/log/gflow. gflowd is the only
// long-running process that accumulates a daemon log this way; per-job
// output under LogDir is bounded by job lifetime instead and does not
// need logrotate.
func GenerateLogrotateConfig(component string) string {
	return fmt.Sprintf(`# Logrotate configuration for gflow %s
# Install: sudo cp this file to /etc/logrotate.d/gflow-%s

/var/log/gflow/%s/*.log {
    daily
    rotate 14
    compress
    delaycompress
    missingok
    notifempty
    create 0644 gflow gflow
    sharedscripts
    postrotate
        systemctl reload gflow-%s 2>/dev/null || true
    endscript
}
`, component, component, component, component)
}

// GenerateDaemonLogrotate returns the logrotate config for gflowd's own
// operational log.
func GenerateDaemonLogrotate() string {
	return GenerateLogrotateConfig("gflowd")
}
