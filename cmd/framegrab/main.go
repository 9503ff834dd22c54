package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/norasector/framegrab/pkg/framegrab"
	"github.com/norasector/framegrab/pkg/framegrab/config"
	"github.com/norasector/framegrab/pkg/framegrab/device"
	"github.com/norasector/framegrab/pkg/framegrab/device/file"
	"github.com/norasector/framegrab/pkg/framegrab/device/rtt"
	"github.com/norasector/framegrab/pkg/framegrab/device/serial"
	"github.com/norasector/framegrab/pkg/framegrab/output"
	"github.com/norasector/framegrab/pkg/util"
	"github.com/norasector/framegrab/pkg/viz"
)

var (
	configFlag   string
	playbackFlag string
	debugFlag    bool
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)

	rootCmd := &cobra.Command{
		Use:          "framegrab",
		Short:        "Capture camera frames from a serial or RTT link",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "framegrab.yaml", "YAML config file")
	rootCmd.Flags().StringVar(&playbackFlag, "playback", "", "Replay a recorded capture instead of opening a device")
	rootCmd.Flags().BoolVar(&debugFlag, "debug", false, "Log every frame and discarded line")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	if debugFlag {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}

	opts, err := config.Load(configFlag)
	if err != nil {
		log.Error().Err(err).Str("config", configFlag).Msg("error loading config")
		return err
	}
	if playbackFlag != "" {
		opts.PlaybackLocation = playbackFlag
		if err := opts.Validate(); err != nil {
			return err
		}
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev, err := openDevice(sigCtx, opts)
	if err != nil {
		log.Error().Str("device", opts.Device).Err(err).Msg("failed to initialize device")
		return err
	}

	var writeAPI api.WriteAPI = &util.MockWriteAPI{}
	if opts.InfluxDB.Host != "" {
		client := influxdb2.NewClient(opts.InfluxDB.Host, opts.InfluxDB.Token)
		defer client.Close()
		writeAPI = client.WriteAPI(opts.InfluxDB.Organization, opts.InfluxDB.Bucket)
	}

	session := uuid.NewString()
	engineConfig := opts.EngineConfig()

	fileOutput, err := output.NewFileOutput(opts.Output.Dir, opts.Output.Prefix, engineConfig.Sentinel, writeAPI, log.Logger)
	if err != nil {
		return err
	}
	outputs := []framegrab.FrameOutput{fileOutput}
	if len(opts.OutputDestinations) > 0 {
		outputs = append(outputs, output.NewFrameUDPOutput(opts.OutputDestinations, session, engineConfig.Sentinel, writeAPI))
	}

	grabberOpts := []framegrab.GrabberOption{
		framegrab.WithInfluxDB(writeAPI),
		framegrab.WithLogger(log.Logger),
		framegrab.WithSession(session),
	}
	if opts.VizServer.Port != 0 {
		vizServer := viz.NewServer(opts.VizServer.Port, opts.VizServer.UpdateInterval, log.Logger)
		view := viz.NewFrameView("latest", log.Logger)
		vizServer.Register("frames", view)
		outputs = append(outputs, view)
		grabberOpts = append(grabberOpts, framegrab.WithImageServer(vizServer))
	}

	grabber, err := framegrab.NewGrabber(dev, framegrab.Options{
		Engine:  engineConfig,
		Outputs: outputs,
	}, grabberOpts...)
	if err != nil {
		log.Error().Err(err).Msg("failed to create grabber")
		return err
	}

	eg, ctx := errgroup.WithContext(context.Background())

	eg.Go(func() error {
		select {
		case <-sigCtx.Done():
		case <-ctx.Done():
		}
		return grabber.Stop()
	})

	eg.Go(func() error {
		err := grabber.Start(ctx)
		if err == nil {
			// unblock the signal watcher once the stream is exhausted
			err = context.Canceled
		}
		return err
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("exited program")
		return err
	}
	return nil
}

func openDevice(ctx context.Context, opts config.Config) (device.Device, error) {
	log.Info().Str("device", opts.Device).Msg("initializing device...")

	var (
		dev device.Device
		err error
	)
	switch opts.Device {
	case config.DeviceFile:
		dev, err = file.NewFileDevice(opts.PlaybackLocation, opts.ReadSize, opts.ReadDelay)
	case config.DeviceRTT:
		dev, err = rtt.NewRTTDevice(ctx, opts.RTT.Address, opts.RTT.StartTimeout, opts.RTT.ReadDeadline, log.Logger)
	default:
		dev, err = serial.NewSerialDevice(opts.Serial.Port, opts.Serial.BaudRate, opts.Serial.ReadTimeout)
	}
	if err != nil {
		return nil, err
	}

	if opts.RecordLocation != "" && opts.Device != config.DeviceFile {
		recording, err := device.NewRecordingDevice(dev, opts.RecordLocation)
		if err != nil {
			dev.Close()
			return nil, err
		}
		log.Info().Str("file", opts.RecordLocation).Msg("recording raw stream")
		return recording, nil
	}
	return dev, nil
}
