package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"loopseq/config"
	"loopseq/control"
	"loopseq/engine"
	"loopseq/logx"
	"loopseq/midiio"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "loopseq",
		Short: "A multi-track, loop-oriented live MIDI sequencer",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "loopseq.yaml", "path to config file")

	root.AddCommand(runCmd())
	root.AddCommand(portsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var inputPort, outputPort string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the sequencer and its control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(inputPort, outputPort)
		},
	}
	cmd.Flags().StringVar(&inputPort, "in", "", "MIDI input port (overrides config)")
	cmd.Flags().StringVar(&outputPort, "out", "", "MIDI output port (overrides config)")
	return cmd
}

func portsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List visible MIDI input and output ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("inputs:")
			for _, name := range midiio.ListInputs() {
				fmt.Printf("  %s\n", name)
			}
			fmt.Println("outputs:")
			for _, name := range midiio.ListOutputs() {
				fmt.Printf("  %s\n", name)
			}
			midiio.CloseDriver()
			return nil
		},
	}
}

func run(inputPort, outputPort string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer midiio.CloseDriver()

	eng := engine.NewEngine(cfg.NumTracks, cfg.DefaultBPM, cfg.StatePath)
	eng.Tempo.SetMetronomeEnabled(cfg.MetronomeEnabled)
	eng.Load()

	outName := outputPort
	if outName == "" {
		outName = firstOf(cfg.PreferredOutputPorts)
	}
	if outName != "" {
		sender, closeOut, err := midiio.OpenOutput(outName)
		if err != nil {
			logx.Errorf(logx.Output, "could not open output %q: %v", outName, err)
		} else {
			defer closeOut()
			eng.Output.AddEndpoint(outName, sender)
		}
	}

	inName := inputPort
	if inName == "" {
		inName = firstOf(cfg.PreferredInputPorts)
	}
	if inName != "" {
		stop, err := midiio.ListenInput(inName, eng.Input.Route)
		if err != nil {
			logx.Errorf(logx.Input, "could not open input %q: %v", inName, err)
		} else {
			defer stop()
		}
	}

	go eng.Run()
	defer eng.Stop()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		if err := eng.Save(); err != nil {
			logx.Errorf(logx.Persist, "save on exit failed: %v", err)
		}
		eng.Stop()
		os.Exit(0)
	}()

	model := control.NewModel(eng)
	program := tea.NewProgram(model)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("control surface: %w", err)
	}

	return eng.Save()
}

func firstOf(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}
