package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/icdi-flasher/internal/detect"
	"github.com/bigbag/icdi-flasher/internal/flasher"
	"github.com/bigbag/icdi-flasher/internal/protocol"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configFlag    string
	transportFlag string
	serialFlag    string
	portFlag      string
	baudFlag      int
	retriesFlag   int
	timeoutFlag   time.Duration
	debugFlag     bool

	startFlag     string
	lengthFlag    string
	verifyFlag    bool
	eraseUsedFlag bool

	listenFlag     string
	metricsFlag    string
	queueDepthFlag int

	forceFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "icdi-flasher",
		Short: "Flash firmware to Stellaris/Tiva LaunchPad boards over ICDI",
		Long: `icdi-flasher programs the internal flash of an LM4F120 through the
Stellaris in-circuit debug interface found on TI LaunchPad boards.

It can also bridge the ICDI to TCP so that gdb can debug the board with
"target remote".`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFlag, "config", "c", "", "Config file (.toml, .yaml or .yml)")
	pf.StringVar(&transportFlag, "transport", "usb", "Transport to the probe: usb or serial")
	pf.StringVarP(&serialFlag, "serial", "s", "", "USB serial number of the ICDI to use")
	pf.StringVarP(&portFlag, "port", "p", "", "Serial port of an RSP probe, required with --transport serial")
	pf.IntVarP(&baudFlag, "baud", "b", 115200, "Baud rate for the serial transport")
	pf.IntVar(&retriesFlag, "retries", 0, "Resend a command this many times after a nak or bad checksum")
	pf.DurationVar(&timeoutFlag, "timeout", 0, "Reply timeout per command (0 waits forever)")
	pf.BoolVar(&debugFlag, "debug", false, "Log every frame to stderr")

	// Flash command
	flashCmd := &cobra.Command{
		Use:   "flash <firmware.bin>",
		Short: "Flash firmware to device",
		Long: `Flash a raw binary image to the target.

The chip is erased (or only the blocks the image covers, with --erase-used),
the image is written in 512 byte blocks starting at --start and the board
is reset afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: runFlash,
	}
	flashCmd.Flags().StringVarP(&startFlag, "start", "S", "0", "Start address, 1 KiB aligned")
	flashCmd.Flags().BoolVarP(&verifyFlag, "verify", "v", false, "Verify after flashing")
	flashCmd.Flags().BoolVarP(&eraseUsedFlag, "erase-used", "E", false, "Erase only the blocks the image covers")

	// Erase command
	eraseCmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase flash",
		Long:  "Erase the whole chip, or --length bytes from --start, and reset the board.",
		Args:  cobra.NoArgs,
		RunE:  runErase,
	}
	eraseCmd.Flags().StringVarP(&startFlag, "start", "S", "0", "Start address, 1 KiB aligned")
	eraseCmd.Flags().StringVarP(&lengthFlag, "length", "l", "0", "Bytes to erase, rounded up to 1 KiB (0 erases the chip)")

	// Info command
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show device info",
		Long:  "Identify the target attached to the ICDI.",
		Args:  cobra.NoArgs,
		RunE:  runInfo,
	}

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List ICDI devices and serial ports",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	// Bridge command
	bridgeCmd := &cobra.Command{
		Use:   "bridge",
		Short: "Relay a gdb connection to the device",
		Long: `Listen for a debugger on TCP and relay whole RSP packets between it
and the ICDI until interrupted. Connect with:

  (gdb) target remote localhost:7777`,
		Args: cobra.NoArgs,
		RunE: runBridge,
	}
	bridgeCmd.Flags().StringVarP(&listenFlag, "listen", "l", ":7777", "Address to accept debugger connections on")
	bridgeCmd.Flags().StringVarP(&metricsFlag, "metrics", "m", "", "Address to serve Prometheus metrics on")
	bridgeCmd.Flags().IntVar(&queueDepthFlag, "queue-depth", 16, "Packets buffered per direction")

	// Config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	configInitCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write an example configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit,
	}
	configInitCmd.Flags().BoolVarP(&forceFlag, "force", "f", false, "Overwrite an existing file")
	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
	configCmd.AddCommand(configInitCmd, configShowCmd)

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("icdi-flasher %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(flashCmd, eraseCmd, infoCmd, listCmd, bridgeCmd, configCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseAddress(name, value string) (uint32, error) {
	v, err := strconv.ParseUint(value, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return uint32(v), nil
}

func runFlash(cmd *cobra.Command, args []string) error {
	firmwarePath := args[0]

	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	start, err := parseAddress("start address", startFlag)
	if err != nil {
		return err
	}

	// Read firmware file
	firmware, err := os.ReadFile(firmwarePath)
	if err != nil {
		return fmt.Errorf("failed to read firmware file: %w", err)
	}

	fmt.Printf("Firmware: %s (%d bytes, %d blocks)\n", firmwarePath, len(firmware), protocol.CalculateFlashBlocks(len(firmware)))

	sess, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	bars := newProgressBars()
	sess.flasher.SetProgressCallback(bars.update)

	fmt.Printf("Flashing at 0x%08X...\n", start)
	err = sess.flasher.Write(firmware, flasher.Options{
		StartAddress: start,
		Verify:       cfg.Verify,
		EraseUsed:    cfg.EraseUsed,
	})
	bars.finish()

	var mismatch *protocol.VerifyMismatchError
	if errors.As(err, &mismatch) {
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				fmt.Printf("  %v\n", e)
			}
		}
		return fmt.Errorf("verification failed, board was reset anyway")
	}
	if err != nil {
		return err
	}

	if cfg.Verify {
		fmt.Println("Verified.")
	}
	fmt.Println("Done!")
	return nil
}

func runErase(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	start, err := parseAddress("start address", startFlag)
	if err != nil {
		return err
	}
	length, err := parseAddress("length", lengthFlag)
	if err != nil {
		return err
	}

	sess, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	if start == 0 && length == 0 {
		fmt.Println("Erasing whole chip...")
	} else {
		fmt.Printf("Erasing 0x%X bytes at 0x%08X...\n", protocol.CalculateEraseSize(int(length)), start)
	}
	if err := sess.flasher.Erase(start, length); err != nil {
		return err
	}

	fmt.Println("Done!")
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	sess, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	info, err := sess.flasher.Info()
	if err != nil {
		return err
	}

	fmt.Printf("  Probe:      %s\n", sess.name)
	fmt.Printf("  Class:      0x%02X\n", info.ID.Class())
	fmt.Printf("  Revision:   %s\n", info.ID.Revision())
	fmt.Printf("  Part:       0x%02X (family %d)\n", info.ID.PartNumber(), info.ID.Family())
	fmt.Printf("  Flash:      %d KiB\n", info.ID.FlashSize()/1024)
	fmt.Printf("  DID0/DID1:  0x%08X 0x%08X\n", info.ID.DID0, info.ID.DID1)
	fmt.Printf("  Halt:       %s\n", info.HaltReason)
	fmt.Printf("  Supported:  %s\n", info.Supported)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	devices, err := detect.ListDevices()
	if err != nil {
		fmt.Printf("Warning: %v\n", err)
	}

	if len(devices) == 0 {
		fmt.Println("No ICDI devices or serial ports found")
		return nil
	}

	fmt.Println("Available probes:")
	for _, d := range devices {
		marker := " "
		if d.ICDI {
			marker = "*"
		}
		product := d.Product
		if d.TargetUART {
			product += " (target UART, not a debug port)"
		}
		fmt.Printf(" %s %-7s %-20s %s\n", marker, d.Transport, d.ID, product)
	}
	return nil
}

// progressBars shows one bar per flash stage.
type progressBars struct {
	stage flasher.Stage
	bar   *progressbar.ProgressBar
}

func newProgressBars() *progressBars {
	return &progressBars{}
}

func (p *progressBars) update(stage flasher.Stage, current, total int) {
	if p.bar == nil || p.stage != stage {
		p.finish()
		p.stage = stage
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription(description(stage)),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowBytes(false),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(100),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	p.bar.Set(current)
}

func (p *progressBars) finish() {
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}

func description(stage flasher.Stage) string {
	switch stage {
	case flasher.StageVerify:
		return "Verifying"
	default:
		return "Flashing"
	}
}
