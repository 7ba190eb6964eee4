package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Bootloader hook defaults: the controller asks the host to come back up
// with the USB port in ethernet gadget mode so it can be reflashed.
const (
	DefaultBootConfigPath = "/boot/firmware/cmdline.txt"
	DefaultBootToken      = "tmu_bootloader"

	bootGadgetSerial = "g_serial"
	bootGadgetEther  = "g_ether"
)

// BootHook rewrites the host's boot command line and reboots when the
// controller sends the bootloader token over the serial link. The file path,
// the replaced patterns and the reboot runner are injectable for tests.
type BootHook struct {
	ConfigPath string
	Token      string
	From       string
	To         string
	// Reboot runs the privileged reboot command. Leave nil for the default
	// (sudo reboot).
	Reboot func() error
}

func (h BootHook) withDefaults() BootHook {
	if h.ConfigPath == "" {
		h.ConfigPath = DefaultBootConfigPath
	}
	if h.Token == "" {
		h.Token = DefaultBootToken
	}
	if h.From == "" {
		h.From = bootGadgetSerial
	}
	if h.To == "" {
		h.To = bootGadgetEther
	}
	if h.Reboot == nil {
		h.Reboot = func() error {
			return exec.Command("sudo", "reboot").Run()
		}
	}
	return h
}

// trigger performs the one-time host reconfiguration: rewrite the boot
// command line, then reboot. A missing file or an I/O failure is reported
// and the connection carries on without rebooting.
func (h BootHook) trigger() error {
	content, err := os.ReadFile(h.ConfigPath)
	if err != nil {
		return fmt.Errorf("could not read boot config %s: %w", h.ConfigPath, err)
	}
	slog.Info("rewriting boot config", "path", h.ConfigPath, "from", h.From, "to", h.To)
	updated := strings.ReplaceAll(string(content), h.From, h.To)
	if err = os.WriteFile(h.ConfigPath, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("could not write boot config %s: %w", h.ConfigPath, err)
	}
	slog.Info("boot config updated, rebooting")
	if err = h.Reboot(); err != nil {
		return fmt.Errorf("reboot command failed: %w", err)
	}
	return nil
}

// listen owns the read half of the serial port for the lifetime of one
// connection. Inbound bytes are decoded lossily and scanned for the
// bootloader token; read timeouts are idle polling, any other read error
// ends the listener. Closing stop ends it too.
func listen(port Port, stop <-chan struct{}, hook BootHook) {
	slog.Debug("serial control listener started")
	buf := make([]byte, 256)
	for {
		select {
		case <-stop:
			slog.Debug("serial control listener stopping")
			return
		default:
		}
		n, err := port.Read(buf)
		if n > 0 {
			cmd := strings.ToValidUTF8(string(buf[:n]), "�")
			slog.Info("received control bytes", "command", cmd)
			if strings.Contains(cmd, hook.Token) {
				slog.Info("bootloader command received")
				if err := hook.trigger(); err != nil {
					slog.Error("bootloader hook failed", "error", err)
				}
			}
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			slog.Error("serial read failed, control listener exiting", "error", err)
			return
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
