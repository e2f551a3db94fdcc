package goal

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// DefaultRefreshCommand makes the IPsec control plane re-scan its interfaces.
var DefaultRefreshCommand = []string{"/tos/bin/ipsec-cmd/whack", "--listen"}

// Runner runs an external command and reports its exit status.
// err is only set if the command could not be run at all.
type Runner interface {
	Run(ctx context.Context, argv []string) (status int, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, argv []string) (int, error) {
	if len(argv) == 0 {
		return 0, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		zap.S().Debugf("%s: exit status %d: %s", strings.Join(argv, " "), exitErr.ExitCode(), out)
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}

func runChecked(ctx context.Context, r Runner, argv ...string) error {
	status, err := r.Run(ctx, argv)
	if err != nil {
		return fmt.Errorf("%s: %w", strings.Join(argv, " "), err)
	}
	if status != 0 {
		return fmt.Errorf("%s: exit status %d", strings.Join(argv, " "), status)
	}
	return nil
}

// ExecCommander configures interfaces through ifconfig.
type ExecCommander struct {
	Runner         Runner
	RefreshCommand []string
}

var _ Commander = (*ExecCommander)(nil)

func (c *ExecCommander) SetAddress(ctx context.Context, ifName string, addr netip.Prefix) error {
	return runChecked(ctx, c.Runner, "ifconfig", ifName, addr.Addr().String(), "netmask", MaskAddr(addr).String())
}

func (c *ExecCommander) AddIPv6Address(ctx context.Context, ifName string, addr netip.Prefix) error {
	return runChecked(ctx, c.Runner, "ifconfig", ifName, "inet6", "add", addr.String())
}

func (c *ExecCommander) SetMTU(ctx context.Context, ifName string, mtu uint32) error {
	return runChecked(ctx, c.Runner, "ifconfig", ifName, "mtu", strconv.FormatUint(uint64(mtu), 10))
}

func (c *ExecCommander) SetLinkDown(ctx context.Context, ifName string) error {
	return runChecked(ctx, c.Runner, "ifconfig", ifName, "down")
}

func (c *ExecCommander) SetLinkUp(ctx context.Context, ifName string) error {
	return runChecked(ctx, c.Runner, "ifconfig", ifName, "up")
}

func (c *ExecCommander) RefreshListeners(ctx context.Context) error {
	return refresh(ctx, c.Runner, c.RefreshCommand)
}

func refresh(ctx context.Context, r Runner, argv []string) error {
	if len(argv) == 0 {
		argv = DefaultRefreshCommand
	}
	return runChecked(ctx, r, argv...)
}
