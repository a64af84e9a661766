package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

const pidFileName = "imagereader.pid"

var errNoDaemon = errors.New("no running daemon")

func init() {
	rootCmd.AddCommand(stopCmd, restartCmd, statusCmd)
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, pidFileName)
}

// readPID reads the daemon PID from dataDir and checks the process is
// alive by sending signal 0.
func readPID(dataDir string) (int, error) {
	data, err := os.ReadFile(pidFilePath(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w (PID file not found)", errNoDaemon)
		}
		return 0, fmt.Errorf("read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, fmt.Errorf("%w (process %d not found)", errNoDaemon, pid)
	}
	return pid, nil
}

// signalDaemon delivers sig to the daemon recorded in the data dir.
func signalDaemon(sig syscall.Signal) (int, error) {
	cfg := loadConfig()
	pid, err := readPID(cfg.DataDir)
	if err != nil {
		return 0, err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("find process: %w", err)
	}
	if err := proc.Signal(sig); err != nil {
		return 0, fmt.Errorf("send %s: %w", sig, err)
	}
	return pid, nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := signalDaemon(syscall.SIGTERM)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Sent SIGTERM to daemon (PID %d).\n", pid)
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := signalDaemon(syscall.SIGHUP)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Sent SIGHUP to daemon (PID %d) for restart.\n", pid)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		pid, err := readPID(cfg.DataDir)
		if errors.Is(err, errNoDaemon) {
			fmt.Fprintln(os.Stdout, "Daemon is not running.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Daemon running (PID %d), provider %s, model %s.\n", pid, cfg.LLM.Provider, cfg.LLM.Model)
		return nil
	},
}
