// Package provisioning implements the gateway's provisioning dispatcher:
// it invokes an external provisioning backend and captures its result into
// the session.
package provisioning

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	gatewayerrors "github.com/enclagent/gateway/infrastructure/errors"
)

const (
	BackendCommand      = "command"
	BackendDefaultURL   = "default_instance_url"
	BackendUnconfigured = "unconfigured"
)

// Result is the typed payload a successful dispatch produces.
type Result struct {
	InstanceURL          string
	VerifyURL            string
	EigenAppID           string
	LaunchedOnEigencloud bool
	DedicatedInstance    bool

	// EventFeedURL, when set, is a websocket endpoint the provisioned
	// runtime exposes for job/log events. The gateway relays it onto the
	// in-process event bus so SSE subscribers see runtime-native events
	// alongside gateway-originated ones.
	EventFeedURL string
}

// LineSink receives each stdout/stderr line as it streams from the
// provisioning subprocess, for the caller to append to the timeline with
// actor=provisioner.
type LineSink func(stream, line string)

// Dispatcher invokes the configured provisioning backend.
type Dispatcher struct {
	Backend            string
	Command            string
	Timeout            time.Duration
	DefaultInstanceURL string
}

// NewDispatcher builds a Dispatcher from gateway configuration.
func NewDispatcher(backend, command string, timeout time.Duration, defaultInstanceURL string) *Dispatcher {
	return &Dispatcher{Backend: backend, Command: command, Timeout: timeout, DefaultInstanceURL: defaultInstanceURL}
}

// Dispatch runs the configured backend exactly once and returns its result.
func (d *Dispatcher) Dispatch(ctx context.Context, sink LineSink) (*Result, error) {
	switch d.Backend {
	case BackendCommand:
		return d.dispatchCommand(ctx, sink)
	case BackendDefaultURL:
		if d.DefaultInstanceURL == "" {
			return nil, gatewayerrors.ProvisioningBackendUnconfigured()
		}
		return &Result{
			InstanceURL:          d.DefaultInstanceURL,
			DedicatedInstance:    false,
			LaunchedOnEigencloud: false,
		}, nil
	default:
		return nil, gatewayerrors.ProvisioningBackendUnconfigured()
	}
}

func (d *Dispatcher) dispatchCommand(ctx context.Context, sink LineSink) (*Result, error) {
	if strings.TrimSpace(d.Command) == "" {
		return nil, gatewayerrors.ProvisioningBackendUnconfigured()
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fields := strings.Fields(d.Command)
	if len(fields) == 0 {
		return nil, gatewayerrors.ProvisioningBackendUnconfigured()
	}

	cmd := exec.CommandContext(cctx, fields[0], fields[1:]...)
	cmd.Env = []string{} // no inherited shell environment

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, gatewayerrors.ProvisioningFailure(fmt.Errorf("attach stdout: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, gatewayerrors.ProvisioningFailure(fmt.Errorf("attach stderr: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return nil, gatewayerrors.ProvisioningFailure(fmt.Errorf("start provisioning command: %w", err))
	}

	var lastLine string
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) != "" {
				lastLine = line
			}
			if sink != nil {
				sink("stdout", line)
			}
		}
	}()
	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			if sink != nil {
				sink("stderr", scanner.Text())
			}
		}
	}()

	<-done
	waitErr := cmd.Wait()

	if cctx.Err() == context.DeadlineExceeded {
		return nil, gatewayerrors.ProvisioningTimeout()
	}
	if waitErr != nil {
		return nil, gatewayerrors.ProvisioningFailure(waitErr)
	}
	if lastLine == "" {
		return nil, gatewayerrors.ProvisioningMalformedResult("provisioning command produced no output line")
	}

	return parseResult(lastLine)
}

func parseResult(line string) (*Result, error) {
	if !gjson.Valid(line) {
		return nil, gatewayerrors.ProvisioningMalformedResult("final output line is not valid JSON")
	}
	parsed := gjson.Parse(line)

	r := &Result{
		InstanceURL:          parsed.Get("instance_url").String(),
		VerifyURL:            parsed.Get("verify_url").String(),
		EigenAppID:           parsed.Get("eigen_app_id").String(),
		LaunchedOnEigencloud: parsed.Get("launched_on_eigencloud").Bool(),
		DedicatedInstance:    parsed.Get("dedicated_instance").Bool(),
		EventFeedURL:         parsed.Get("event_feed_url").String(),
	}
	if r.InstanceURL == "" && r.VerifyURL == "" {
		return nil, gatewayerrors.ProvisioningMalformedResult("result must set instance_url or verify_url")
	}
	if r.InstanceURL != "" && r.VerifyURL != "" {
		return nil, gatewayerrors.ProvisioningMalformedResult("result must set exactly one of instance_url, verify_url")
	}
	return r, nil
}
