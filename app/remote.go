package app

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dylanmei/iso8601"
	"github.com/masterzen/winrm"
)

const DefaultRemoteTimeout = "PT60S"

// commandRunner is the subset of *winrm.Client used by RemoteProber.
type commandRunner interface {
	Run(command string, stdout io.Writer, stderr io.Writer) (int, error)
}

type RemoteConfig struct {
	Host     string
	Port     int
	HTTPS    bool
	Insecure bool
	NTLM     bool
	User     string
	Password string

	// Timeout is an ISO-8601 duration, e.g. PT60S.
	Timeout string
}

// RemoteProber checks the Windows artifact table on a remote host over
// WinRM.
type RemoteProber struct {
	host   string
	client commandRunner
}

func NewRemoteProber(cfg RemoteConfig) (*RemoteProber, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: no host", ErrInvalidArgument)
	}

	if cfg.Timeout == "" {
		cfg.Timeout = DefaultRemoteTimeout
	}

	timeout, err := iso8601.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: timeout %q: %s", ErrInvalidArgument, cfg.Timeout, err.Error())
	}

	if cfg.Port == 0 {
		cfg.Port = 5985
		if cfg.HTTPS {
			cfg.Port = 5986
		}
	}

	endpoint := winrm.NewEndpoint(cfg.Host, cfg.Port, cfg.HTTPS, cfg.Insecure, nil, nil, nil, timeout)

	params := winrm.NewParameters(cfg.Timeout, "en-US", 153600)
	if cfg.NTLM {
		params.TransportDecorator = func() winrm.Transporter { return &winrm.ClientNTLM{} }
	}

	client, err := winrm.NewClientWithParameters(endpoint, cfg.User, cfg.Password, params)
	if err != nil {
		return nil, err
	}

	return &RemoteProber{
		host:   cfg.Host,
		client: client,
	}, nil
}

// run executes command on the remote host. A running command is not
// interrupted; ctx is checked before it starts.
func (p *RemoteProber) run(ctx context.Context, command string) (string, int, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	code, err := p.client.Run(command, stdout, stderr)
	if err != nil {
		return "", code, fmt.Errorf("running %q on %s: %w", command, p.host, err)
	}

	if code != 0 {
		log.Debugf("Command %q on %s exited with %d: %s", command, p.host, code, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), code, nil
}

func windowsJoin(elem ...string) string {
	return strings.Join(elem, `\`)
}

func parseLines(s string) []string {
	lines := []string{}

	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Probe returns host:path for every artifact found on the remote host, in
// table order.
func (p *RemoteProber) Probe(ctx context.Context) ([]string, error) {
	out, _, err := p.run(ctx, "cmd /c echo %APPDATA%")
	if err != nil {
		return nil, err
	}

	appData := strings.TrimSpace(out)
	if appData == "" || appData == "%APPDATA%" {
		return nil, errors.New("APPDATA is not set on remote host")
	}

	found := []string{}

	for _, loc := range artifactTable["windows"] {
		if loc.base != baseAppData {
			continue
		}

		dir := windowsJoin(append([]string{appData}, loc.dir...)...)

		out, code, err := p.run(ctx, fmt.Sprintf(`cmd /c dir /b /a "%s"`, dir))
		if err != nil {
			return found, err
		} else if code != 0 {
			// missing directory
			continue
		}

		present := map[string]bool{}
		for _, name := range parseLines(out) {
			present[name] = true
		}

		for _, name := range loc.names {
			if !present[name] {
				continue
			}

			path := fmt.Sprintf("%s:%s", p.host, windowsJoin(dir, name))
			log.Infof("Found dropper artifact %s", path)
			found = append(found, path)
		}
	}

	return found, nil
}
