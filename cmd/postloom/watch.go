package main

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/postloom/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch [campaign-id]",
	Short: "Follow a campaign's generation in the terminal UI",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

var (
	watchInterval time.Duration
	watchExit     bool
	autoStart     bool
)

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", tui.DefaultRefreshInterval, "Polling interval")
	watchCmd.Flags().BoolVar(&watchExit, "exit", false, "Quit once generation has finished")
	watchCmd.Flags().BoolVar(&autoStart, "start-daemon", true, "Start the daemon in the background if it is not running")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if !isDaemonRunning(apiAddr) {
		if !autoStart {
			return fmt.Errorf("daemon not reachable at %s", apiAddr)
		}
		fmt.Println("Postloom daemon not running. Starting background service...")
		if err := startDaemon(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	opts := []tui.Option{tui.WithRefreshInterval(watchInterval)}
	if watchExit {
		opts = append(opts, tui.WithExitOnComplete())
	}
	if err := tui.New(apiAddr, args[0], opts...).Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func isDaemonRunning(addr string) bool {
	client := http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Get(addr + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return true
}

func startDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	args := []string{"daemon"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	cmd := exec.Command(exe, args...)
	detachDaemon(cmd)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}

	fmt.Print("   Waiting for daemon...")
	for i := 0; i < 20; i++ {
		if isDaemonRunning(apiAddr) {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s", apiAddr)
}
