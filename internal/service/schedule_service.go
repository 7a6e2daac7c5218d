package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"

	"github.com/osa911/stackctl/internal/docker"
	"github.com/osa911/stackctl/internal/logging"
)

// ScheduleUnitName is the systemd unit running `stackctl schedule`.
const ScheduleUnitName = "stackctl-schedule.service"

// ScheduleLaunchdLabel is the launchd label used on macOS.
const ScheduleLaunchdLabel = "com.stackctl.schedule"

// ScheduleInstallOptions describes the service to install.
type ScheduleInstallOptions struct {
	Executable string
	WorkDir    string
	// EnvFile is passed to systemd as an optional EnvironmentFile.
	EnvFile string
	Stacks  []string
}

// ScheduleInstaller installs `stackctl schedule` as a system service.
type ScheduleInstaller interface {
	Install(ctx context.Context, opts ScheduleInstallOptions) (string, error)
	Uninstall(ctx context.Context) error
	Active(ctx context.Context) (bool, error)
	String() string
}

// NewScheduleInstaller returns a systemd installer on Linux and a launchd
// installer on macOS.
func NewScheduleInstaller() (ScheduleInstaller, error) {
	switch runtime.GOOS {
	case "linux":
		return NewSystemdInstaller("/etc/systemd/system", docker.NewExecRunner("systemctl")), nil
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		return NewLaunchdInstaller(filepath.Join(home, "Library", "LaunchAgents"), docker.NewExecRunner("launchctl")), nil
	default:
		return nil, fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

var systemdUnit = template.Must(template.New("unit").Parse(`[Unit]
Description=stackctl scheduled backups and health checks
After=docker.service network-online.target
Requires=docker.service

[Service]
Type=simple
WorkingDirectory={{.WorkDir}}
{{- if .EnvFile}}
EnvironmentFile=-{{.EnvFile}}
{{- end}}
ExecStart={{.Executable}} schedule{{range .Stacks}} {{.}}{{end}}
Restart=on-failure
RestartSec=10

[Install]
WantedBy=multi-user.target
`))

var launchdPlist = template.Must(template.New("plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.Executable}}</string>
        <string>schedule</string>
{{- range .Stacks}}
        <string>{{.}}</string>
{{- end}}
    </array>
    <key>WorkingDirectory</key>
    <string>{{.WorkDir}}</string>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
</dict>
</plist>
`))

func render(t *template.Template, data interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SystemdInstaller manages the stackctl-schedule unit.
type SystemdInstaller struct {
	logger    *logging.Logger
	unitDir   string
	systemctl docker.Runner
}

// NewSystemdInstaller writes units into unitDir and drives them through
// systemctl.
func NewSystemdInstaller(unitDir string, systemctl docker.Runner) *SystemdInstaller {
	return &SystemdInstaller{logger: logging.GetGlobalLogger(), unitDir: unitDir, systemctl: systemctl}
}

func (m *SystemdInstaller) unitPath() string {
	return filepath.Join(m.unitDir, ScheduleUnitName)
}

func (m *SystemdInstaller) run(ctx context.Context, args ...string) error {
	_, err := m.systemctl.Run(ctx, docker.Cmd{Args: args})
	if err != nil {
		// systemd: unit not found
		var exitErr *docker.ExitError
		if errors.As(err, &exitErr) && exitErr.Code == 5 {
			return fmt.Errorf("unit %s not found. Run 'sudo stackctl schedule install' first", ScheduleUnitName)
		}
		return fmt.Errorf("systemctl %s failed: %w", strings.Join(args, " "), err)
	}
	return nil
}

func (m *SystemdInstaller) Install(ctx context.Context, opts ScheduleInstallOptions) (string, error) {
	unit, err := render(systemdUnit, opts)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(m.unitDir, 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(m.unitPath(), unit, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s (are you root?): %w", m.unitPath(), err)
	}
	m.logger.Info("Wrote %s", m.unitPath())

	if err := m.run(ctx, "daemon-reload"); err != nil {
		return "", err
	}
	if err := m.run(ctx, "enable", "--now", ScheduleUnitName); err != nil {
		return "", err
	}
	return m.unitPath(), nil
}

func (m *SystemdInstaller) Uninstall(ctx context.Context) error {
	if _, err := os.Stat(m.unitPath()); os.IsNotExist(err) {
		return fmt.Errorf("unit %s is not installed", ScheduleUnitName)
	}
	if err := m.run(ctx, "disable", "--now", ScheduleUnitName); err != nil {
		return err
	}
	if err := os.Remove(m.unitPath()); err != nil {
		return err
	}
	return m.run(ctx, "daemon-reload")
}

func (m *SystemdInstaller) Active(ctx context.Context) (bool, error) {
	_, err := m.systemctl.Run(ctx, docker.Cmd{Args: []string{"is-active", "--quiet", ScheduleUnitName}})
	if err != nil {
		// Non-zero exit means not active
		if docker.IsExitError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *SystemdInstaller) String() string {
	return fmt.Sprintf("systemd unit %s", ScheduleUnitName)
}

// LaunchdInstaller manages the launch agent on macOS.
type LaunchdInstaller struct {
	logger    *logging.Logger
	agentDir  string
	launchctl docker.Runner
}

// NewLaunchdInstaller writes the plist into agentDir and loads it with launchctl.
func NewLaunchdInstaller(agentDir string, launchctl docker.Runner) *LaunchdInstaller {
	return &LaunchdInstaller{logger: logging.GetGlobalLogger(), agentDir: agentDir, launchctl: launchctl}
}

func (m *LaunchdInstaller) plistPath() string {
	return filepath.Join(m.agentDir, ScheduleLaunchdLabel+".plist")
}

func (m *LaunchdInstaller) Install(ctx context.Context, opts ScheduleInstallOptions) (string, error) {
	plist, err := render(launchdPlist, struct {
		ScheduleInstallOptions
		Label string
	}{opts, ScheduleLaunchdLabel})
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(m.agentDir, 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(m.plistPath(), plist, 0644); err != nil {
		return "", err
	}
	if _, err := m.launchctl.Run(ctx, docker.Cmd{Args: []string{"load", m.plistPath()}}); err != nil {
		return "", fmt.Errorf("launchctl load failed: %w", err)
	}
	return m.plistPath(), nil
}

func (m *LaunchdInstaller) Uninstall(ctx context.Context) error {
	if _, err := m.launchctl.Run(ctx, docker.Cmd{Args: []string{"unload", m.plistPath()}}); err != nil {
		return fmt.Errorf("launchctl unload failed: %w", err)
	}
	return os.Remove(m.plistPath())
}

func (m *LaunchdInstaller) Active(ctx context.Context) (bool, error) {
	if _, err := m.launchctl.Run(ctx, docker.Cmd{Args: []string{"list", ScheduleLaunchdLabel}}); err != nil {
		if docker.IsExitError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *LaunchdInstaller) String() string {
	return fmt.Sprintf("launch agent %s", ScheduleLaunchdLabel)
}
