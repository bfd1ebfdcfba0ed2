// Command bsub submits a root kernel to a running bschedulerd and waits for
// it to commit, printing a spinner while the round trip is in flight.
// Grounded on original_source/src/bscheduler/daemon/bsub.cc's Main kernel
// (act: upstream the application kernel; react: log and commit locally)
// and on the teacher's interactive CLI idioms: briandowns/spinner,
// fatih/color, mattn/go-isatty (all teacher dependencies).
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/bscheduler/bscheduler/internal/echokernel"
	"github.com/bscheduler/bscheduler/pkg/factory"
	"github.com/bscheduler/bscheduler/pkg/kernel"
	"github.com/bscheduler/bscheduler/pkg/netaddr"
	"github.com/bscheduler/bscheduler/pkg/wire/binary"
)

func main() {
	var daemonAddr string
	var value uint32

	cmd := &cobra.Command{
		Use:   "bsub",
		Short: "submit a kernel to a running bschedulerd and wait for its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(daemonAddr, value)
		},
	}
	cmd.Flags().StringVar(&daemonAddr, "daemon", "127.0.0.1:7850", "daemon endpoint to submit to")
	cmd.Flags().Uint32Var(&value, "value", 1, "payload value for the submitted echo kernel")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(daemonAddr string, value uint32) error {
	f, err := factory.New(factory.Config{
		ListenNetwork: "tcp",
		ListenAddr:    "127.0.0.1:0",
		UseLocalhost:  true,
	})
	if err != nil {
		return fmt.Errorf("bsub: failed to connect to daemon process: %w", err)
	}
	echokernel.RegisterTypes(f.Registry())
	f.Start()

	dest, err := resolveAddress(daemonAddr)
	if err != nil {
		f.GracefulShutdown(1)
		return fmt.Errorf("bsub: %w", err)
	}

	var s *spinner.Spinner
	if isatty.IsTerminal(os.Stdout.Fd()) {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = " waiting for commit"
		s.Start()
	}

	f.Send(&submitKernel{dest: dest, value: value})
	code := f.Wait()

	if s != nil {
		s.Stop()
	}

	if code == 0 {
		fmt.Println(color.GreenString("submitted: ok"))
	} else {
		fmt.Println(color.RedString("submission failed: exit code %d", code))
	}
	os.Exit(code)
	return nil
}

func resolveAddress(s string) (netaddr.Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return netaddr.Address{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return netaddr.Address{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return netaddr.Address{}, fmt.Errorf("cannot resolve host %q: %w", host, err)
	}
	ip4 := ips[0].To4()
	if ip4 == nil {
		return netaddr.Address{Family: netaddr.FamilyIPv6, IP: ips[0].To16(), Port: uint16(port)}, nil
	}
	return netaddr.Address{Family: netaddr.FamilyIPv4, IP: ip4, Port: uint16(port)}, nil
}

// submitKernel mirrors bsub.cc's Main kernel: act sends the payload kernel
// upstream to the daemon, react commits locally with the child's result so
// the process exit code matches the remote kernel's result.
type submitKernel struct {
	base  kernel.Base
	dest  netaddr.Address
	value uint32
}

func (k *submitKernel) Base() *kernel.Base    { return &k.base }
func (k *submitKernel) TypeID() kernel.TypeID { return 0 }

func (k *submitKernel) WriteBody(w *binary.Writer) error {
	return fmt.Errorf("bsub: submit kernel is not transmittable")
}

func (k *submitKernel) ReadBody(r *binary.Reader) error {
	return fmt.Errorf("bsub: submit kernel is not transmittable")
}

func (k *submitKernel) Act(f kernel.Facade) {
	child := echokernel.New(k.value)
	child.Base().Destination = k.dest
	child.Base().Flags = child.Base().Flags.Set(kernel.FlagMovesSomewhere)
	f.Upstream(k, child)
}

func (k *submitKernel) React(f kernel.Facade, child kernel.Kernel) {
	f.Commit(k, child.Base().Result)
}
