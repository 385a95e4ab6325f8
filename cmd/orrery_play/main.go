package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cbegin/orrery-go"
	"github.com/cbegin/orrery-go/internal/config"
	"github.com/cbegin/orrery-go/internal/playhead"
)

// defaultEvents is a short two-planet pass used when no file is given.
const defaultEvents = `[
	{"t": 0.0, "type": "note_on", "planet": "Mercury", "midi": 72, "vel": 96},
	{"t": 0.4, "type": "note_off", "planet": "Mercury"},
	{"t": 0.0, "type": "note_on", "planet": "Jupiter", "midi": 43, "vel": 70, "continuous": true, "reverb": 0.5},
	{"t": 2.5, "type": "note_on", "planet": "Mercury", "midi": 76, "vel": 90},
	{"t": 2.9, "type": "note_off", "planet": "Mercury"},
	{"t": 5.0, "type": "note_on", "planet": "Mercury", "midi": 79, "vel": 84},
	{"t": 5.4, "type": "note_off", "planet": "Mercury"}
]`

func main() {
	var (
		configPath = flag.String("config", "", "path to an engine config (yaml)")
		eventsPath = flag.String("file", "", "path to an events JSON file (array or compute response); - reads stdin")
		loop       = flag.Bool("loop", true, "loop playback; use with -loops to count then stop")
		loops      = flag.Int("loops", 3, "when -loop, stop after N loops (0 = loop forever)")
		volume     = flag.Float64("volume", 1.0, "master volume scalar")
		seed       = flag.Int64("seed", 0, "detune seed (0 keeps the config value)")
		wavPath    = flag.String("wav", "", "render to a WAV file instead of the sound device")
		seconds    = flag.Float64("seconds", 0, "with -wav, seconds to render (0 = one loop)")
		watch      = flag.Bool("watch", false, "replay when the events file or config changes")
		progress   = flag.Bool("progress", false, "print the playhead position")
	)
	flag.Parse()

	engine := config.Default()
	if *configPath != "" {
		var err error
		if engine, err = config.Load(*configPath); err != nil {
			log.Fatal(err)
		}
	}
	opts := []orrery.PlayerOption{
		orrery.WithEngineConfig(engine),
		orrery.WithLoopPlayback(*loop),
		orrery.WithLogf(log.Printf),
	}
	if *seed != 0 {
		opts = append(opts, orrery.WithSeed(*seed))
	}

	data, err := readEvents(*eventsPath)
	if err != nil {
		log.Fatal(err)
	}

	if *wavPath != "" {
		if err := renderWAV(*wavPath, data, *seconds, opts); err != nil {
			log.Fatal(err)
		}
		return
	}

	pl, err := orrery.NewPlayer(opts...)
	if err != nil {
		log.Fatal(err)
	}
	pl.SetMasterVolume(*volume)
	ch := pl.Watch()
	b, err := pl.DecodeBatch(bytes.NewReader(data))
	if err != nil {
		log.Fatal(err)
	}
	if err := pl.Play(b); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("playing %d events, loop %.1fs\n", len(b.Events), b.LoopDuration)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		loopCount := 0
		for {
			select {
			case <-ctx.Done():
				return nil
			case event := <-ch:
				switch event.Kind {
				case orrery.EventPlaybackEnded:
					fmt.Println("playback completed")
					return nil
				case orrery.EventLoopCompleted:
					loopCount++
					fmt.Printf("loop %d completed\n", loopCount)
					if *loop && *loops > 0 && loopCount >= *loops {
						return nil
					}
				case orrery.EventBlink:
					fmt.Printf("blink %s\n", event.Entity)
				case orrery.EventAudioUnavailable:
					fmt.Printf("audio unavailable: %v\n", event.Err)
				}
			}
		}
	})

	if *progress {
		g.Go(func() error {
			err := playhead.Drive(ctx, pl.Playhead(), 250*time.Millisecond, func(pos float64) {
				fmt.Printf("\r%6.2fs %3.0f%%", pos, 100*pl.Progress())
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if *watch {
		done := make(chan struct{})
		g.Go(func() error {
			<-ctx.Done()
			close(done)
			return nil
		})
		if *eventsPath != "" && *eventsPath != "-" {
			err := config.WatchFile(*eventsPath, func() {
				replayFile(pl, *eventsPath)
			}, func(err error) {
				log.Printf("watch %s: %v", *eventsPath, err)
			}, done)
			if err != nil {
				log.Fatal(err)
			}
		}
		if *configPath != "" {
			err := config.WatchFile(*configPath, func() {
				e, err := config.Load(*configPath)
				if err != nil {
					log.Printf("config not reloaded: %v", err)
					return
				}
				// the graph is built once; only the master level follows the file
				if engine.Graph.MasterGain > 0 {
					pl.SetMasterVolume(*volume * e.Graph.MasterGain / engine.Graph.MasterGain)
				}
				fmt.Println("config reloaded")
			}, func(err error) {
				log.Printf("watch %s: %v", *configPath, err)
			}, done)
			if err != nil {
				log.Fatal(err)
			}
		}
	}

	if err := g.Wait(); err != nil {
		log.Print(err)
	}
	if err := pl.Stop(); err != nil {
		log.Print(err)
	}
	pl.Wait()
}

func readEvents(path string) ([]byte, error) {
	switch strings.TrimSpace(path) {
	case "":
		return []byte(defaultEvents), nil
	case "-":
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(os.Stdin); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return os.ReadFile(path)
	}
}

func replayFile(pl *orrery.Player, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("reload %s: %v", path, err)
		return
	}
	b, err := pl.DecodeBatch(bytes.NewReader(data))
	if err != nil {
		log.Printf("reload %s: %v", path, err)
		return
	}
	if err := pl.Play(b); err != nil {
		log.Printf("replay: %v", err)
		return
	}
	fmt.Printf("reloaded %d events\n", len(b.Events))
}

func renderWAV(path string, data []byte, seconds float64, opts []orrery.PlayerOption) error {
	pl, err := orrery.NewPlayer(append(opts, orrery.WithDeviceOutput(false))...)
	if err != nil {
		return err
	}
	b, err := pl.DecodeBatch(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if seconds <= 0 {
		seconds = b.LoopDuration
	}
	samples, rate, err := orrery.RenderSamples(b, seconds, opts...)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, orrery.EncodeWAVFloat32LE(samples, rate, 2), 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%.1fs at %d Hz)\n", path, seconds, rate)
	return nil
}
