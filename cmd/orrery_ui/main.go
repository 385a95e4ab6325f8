package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"log"
	"math"
	"math/cmplx"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/ktye/fft"

	"github.com/cbegin/orrery-go"
	"github.com/cbegin/orrery-go/internal/config"
)

const (
	windowW    = 900
	windowH    = 600
	minWindowW = 640
	minWindowH = 480

	charW = 7
	lineH = 16

	// how long a lamp stays lit after a blink
	blinkHold = 250 * time.Millisecond
)

var (
	bgColor        = color.RGBA{12, 14, 24, 255}
	panelColor     = color.RGBA{28, 32, 48, 255}
	barColor       = color.RGBA{40, 46, 70, 255}
	playheadColor  = color.RGBA{240, 200, 90, 255}
	lampOffColor   = color.RGBA{60, 60, 72, 255}
	lampOnColor    = color.RGBA{255, 226, 140, 255}
	specColor      = color.RGBA{90, 170, 255, 255}
	eqColor        = color.RGBA{120, 220, 160, 255}
	eqSelectColor  = color.RGBA{255, 255, 255, 255}
	errorTextColor = color.RGBA{255, 120, 120, 255}
)

const (
	fftSize    = 1024
	ringBufLen = 16384
	specBins   = 48
)

// analyzer keeps the most recent mono output for the spectrum view.
type analyzer struct {
	mu       sync.Mutex
	ring     []float32
	writePos int
}

func newAnalyzer() *analyzer {
	return &analyzer{ring: make([]float32, ringBufLen)}
}

// Tap runs on the audio thread.
func (a *analyzer) Tap(samples []float32) {
	a.mu.Lock()
	for i := 0; i+1 < len(samples); i += 2 {
		a.ring[a.writePos] = (samples[i] + samples[i+1]) * 0.5
		a.writePos = (a.writePos + 1) % ringBufLen
	}
	a.mu.Unlock()
}

func (a *analyzer) Snapshot(n int) []float32 {
	out := make([]float32, n)
	a.mu.Lock()
	start := (a.writePos - n + ringBufLen) % ringBufLen
	for i := range out {
		out[i] = a.ring[(start+i)%ringBufLen]
	}
	a.mu.Unlock()
	return out
}

type game struct {
	player   *orrery.Player
	events   <-chan orrery.PlaybackEvent
	analyzer *analyzer
	fft      fft.FFT
	batch    orrery.Batch
	source   string

	playing bool
	loops   int
	volume  float64
	band    int
	eq      []float64
	bars    []float64

	entities []string
	lit      map[string]time.Time

	status    string
	statusErr bool

	viewW int
	viewH int
}

func newGame(engine config.Engine, data []byte, source string) (*game, error) {
	an := newAnalyzer()
	pl, err := orrery.NewPlayer(
		orrery.WithEngineConfig(engine),
		orrery.WithSampleTap(an.Tap),
		orrery.WithLogf(log.Printf),
	)
	if err != nil {
		return nil, err
	}
	b, err := pl.DecodeBatch(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	f, err := fft.New(fftSize)
	if err != nil {
		return nil, err
	}
	g := &game{
		player:   pl,
		events:   pl.Watch(),
		analyzer: an,
		fft:      f,
		batch:    b,
		source:   source,
		volume:   1,
		eq:       make([]float64, len(engine.Graph.EQCrossovers)+1),
		bars:     make([]float64, specBins),
		lit:      map[string]time.Time{},
		viewW:    windowW,
		viewH:    windowH,
	}
	for i := range g.eq {
		g.eq[i] = 1
	}
	g.entities = entityNames(b)
	g.setStatus("Space: play/pause  R: reset  Up/Down: volume  Left/Right: band  +/-: band gain")
	return g, nil
}

func entityNames(b orrery.Batch) []string {
	seen := map[string]bool{}
	var names []string
	for _, ev := range b.Events {
		if s, ok := ev.(orrery.Start); ok && !s.Sustained && !seen[s.EntityID] {
			seen[s.EntityID] = true
			names = append(names, s.EntityID)
		}
	}
	sort.Strings(names)
	return names
}

func (g *game) Update() error {
	g.pollEvents()
	g.handleKeys()
	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	screen.Fill(bgColor)

	head := image.Rect(16, 16, g.viewW-16, 16+2*lineH)
	bar := image.Rect(16, head.Max.Y+8, g.viewW-16, head.Max.Y+40)
	lamps := image.Rect(16, bar.Max.Y+16, g.viewW-16, bar.Max.Y+16+g.lampRows()*40+16)
	spectrum := image.Rect(16, lamps.Max.Y+16, g.viewW*2/3, g.viewH-16-lineH)
	eq := image.Rect(spectrum.Max.X+16, spectrum.Min.Y, g.viewW-16, spectrum.Max.Y)

	g.drawHeader(screen, head)
	g.drawPlayhead(screen, bar)
	g.drawLamps(screen, lamps)
	g.drawSpectrum(screen, spectrum)
	g.drawEQ(screen, eq)
	g.drawStatus(screen, g.viewH-lineH-4)
}

func (g *game) Layout(outsideW, outsideH int) (int, int) {
	g.viewW = max(outsideW, minWindowW)
	g.viewH = max(outsideH, minWindowH)
	return g.viewW, g.viewH
}

func (g *game) Close() { _ = g.player.Stop() }

func (g *game) pollEvents() {
	for {
		select {
		case ev, ok := <-g.events:
			if !ok {
				return
			}
			switch ev.Kind {
			case orrery.EventBlink:
				g.lit[ev.Entity] = time.Now()
			case orrery.EventLoopCompleted:
				g.loops = ev.Loop
			case orrery.EventPlaybackEnded:
				g.playing = false
				if !g.statusErr {
					g.setStatus("Playback ended")
				}
			case orrery.EventAudioUnavailable:
				g.setError(fmt.Sprintf("Audio unavailable: %v", ev.Err))
			}
		default:
			return
		}
	}
}

func (g *game) handleKeys() {
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeySpace):
		g.togglePlayPause()
	case inpututil.IsKeyJustPressed(ebiten.KeyR):
		g.player.Reset()
		g.playing = false
		g.loops = 0
		g.setStatus("Reset")
	case inpututil.IsKeyJustPressed(ebiten.KeyUp):
		g.setVolume(g.volume + 0.1)
	case inpututil.IsKeyJustPressed(ebiten.KeyDown):
		g.setVolume(g.volume - 0.1)
	case inpututil.IsKeyJustPressed(ebiten.KeyLeft):
		g.band = (g.band + len(g.eq) - 1) % len(g.eq)
	case inpututil.IsKeyJustPressed(ebiten.KeyRight):
		g.band = (g.band + 1) % len(g.eq)
	case inpututil.IsKeyJustPressed(ebiten.KeyEqual), inpututil.IsKeyJustPressed(ebiten.KeyKPAdd):
		g.setBand(g.eq[g.band] + 0.1)
	case inpututil.IsKeyJustPressed(ebiten.KeyMinus), inpututil.IsKeyJustPressed(ebiten.KeyKPSubtract):
		g.setBand(g.eq[g.band] - 0.1)
	}
}

func (g *game) togglePlayPause() {
	if g.playing {
		g.player.Pause()
		g.playing = false
		g.setStatus("Paused")
		return
	}
	if err := g.player.Play(g.batch); err != nil {
		g.setError(err.Error())
		return
	}
	g.playing = true
	g.loops = 0
	g.setStatus(fmt.Sprintf("Playing %s", g.source))
}

func (g *game) setVolume(v float64) {
	g.volume = math.Max(0, math.Min(2, math.Round(v*10)/10))
	g.player.SetMasterVolume(g.volume)
}

func (g *game) setBand(v float64) {
	g.eq[g.band] = math.Max(0, math.Min(2, math.Round(v*10)/10))
	g.player.SetEQBand(g.band, g.eq[g.band])
}

func (g *game) setError(msg string) {
	g.status = msg
	g.statusErr = true
}

func (g *game) setStatus(msg string) {
	g.status = msg
	g.statusErr = false
}

func (g *game) lampRows() int {
	perRow := max(1, (g.viewW-32)/120)
	return max(1, (len(g.entities)+perRow-1)/perRow)
}

func (g *game) drawHeader(screen *ebiten.Image, rect image.Rectangle) {
	state := "stopped"
	if g.playing {
		state = "playing"
	}
	ebitenutil.DebugPrintAt(screen, fmt.Sprintf("%s  [%s]  loop %d  voices %d", g.source, state, g.loops, g.player.Voices()), rect.Min.X, rect.Min.Y)
	ebitenutil.DebugPrintAt(screen, fmt.Sprintf("%6.2fs / %.2fs  volume %.1f", g.player.Frame(), g.batch.LoopDuration, g.volume), rect.Min.X, rect.Min.Y+lineH)
}

func (g *game) drawPlayhead(screen *ebiten.Image, rect image.Rectangle) {
	fillRect(screen, rect, barColor)
	x := rect.Min.X + int(g.player.Progress()*float64(rect.Dx()))
	fillRect(screen, image.Rect(rect.Min.X, rect.Min.Y, x, rect.Max.Y), panelColor)
	fillRect(screen, image.Rect(x-1, rect.Min.Y-4, x+2, rect.Max.Y+4), playheadColor)

	// tick marks where discrete notes start
	if d := g.batch.LoopDuration; d > 0 {
		for _, ev := range g.batch.Events {
			if s, ok := ev.(orrery.Start); ok && !s.Sustained {
				tx := rect.Min.X + int(s.At/d*float64(rect.Dx()))
				fillRect(screen, image.Rect(tx, rect.Max.Y-6, tx+1, rect.Max.Y), lampOffColor)
			}
		}
	}
}

func (g *game) drawLamps(screen *ebiten.Image, rect image.Rectangle) {
	fillRect(screen, rect, panelColor)
	if len(g.entities) == 0 {
		ebitenutil.DebugPrintAt(screen, "no discrete voices", rect.Min.X+8, rect.Min.Y+8)
		return
	}
	perRow := max(1, (rect.Dx())/120)
	now := time.Now()
	for i, name := range g.entities {
		x := rect.Min.X + 8 + (i%perRow)*120
		y := rect.Min.Y + 8 + (i/perRow)*40
		c := lampOffColor
		if t, ok := g.lit[name]; ok {
			if age := now.Sub(t); age < blinkHold {
				c = mix(lampOffColor, lampOnColor, 1-float64(age)/float64(blinkHold))
			}
		}
		fillRect(screen, image.Rect(x, y+4, x+16, y+20), c)
		ebitenutil.DebugPrintAt(screen, shorten(name, 13), x+22, y+4)
	}
}

func (g *game) drawSpectrum(screen *ebiten.Image, rect image.Rectangle) {
	fillRect(screen, rect, panelColor)
	if rect.Dx() < specBins || rect.Dy() < 8 {
		return
	}
	g.updateSpectrum()
	w := float64(rect.Dx()-16) / specBins
	for i, v := range g.bars {
		h := v * float64(rect.Dy()-16)
		x := float64(rect.Min.X+8) + float64(i)*w
		y := float64(rect.Max.Y-8) - h
		ebitenutil.DrawRect(screen, x, y, math.Max(1, w-1), h, specColor)
	}
}

// updateSpectrum windows the latest output, transforms it and eases the
// log-spaced bar heights toward the new magnitudes.
func (g *game) updateSpectrum() {
	snap := g.analyzer.Snapshot(fftSize)
	buf := make([]complex128, fftSize)
	for i, s := range snap {
		w := 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(fftSize-1))
		buf[i] = complex(float64(s)*w, 0)
	}
	res := g.fft.Transform(buf)
	half := fftSize / 2
	for b := range g.bars {
		lo := int(math.Pow(float64(half), float64(b)/specBins))
		hi := max(lo+1, int(math.Pow(float64(half), float64(b+1)/specBins)))
		var peak float64
		for k := lo; k < hi && k < half; k++ {
			peak = math.Max(peak, cmplx.Abs(res[k]))
		}
		db := 20 * math.Log10(peak/float64(half)+1e-9)
		target := math.Max(0, math.Min(1, (db+72)/72))
		if target > g.bars[b] {
			g.bars[b] = target
		} else {
			g.bars[b] += (target - g.bars[b]) * 0.15
		}
	}
}

func (g *game) drawEQ(screen *ebiten.Image, rect image.Rectangle) {
	fillRect(screen, rect, panelColor)
	ebitenutil.DebugPrintAt(screen, "EQ", rect.Min.X+8, rect.Min.Y+4)
	n := len(g.eq)
	if n == 0 {
		return
	}
	slot := (rect.Dx() - 16) / n
	top := rect.Min.Y + lineH + 8
	bottom := rect.Max.Y - lineH - 8
	for i, v := range g.eq {
		x := rect.Min.X + 8 + i*slot
		fillRect(screen, image.Rect(x+slot/2-1, top, x+slot/2+1, bottom), barColor)
		y := bottom - int(v/2*float64(bottom-top))
		c := eqColor
		if i == g.band {
			c = eqSelectColor
		}
		fillRect(screen, image.Rect(x+4, y-3, x+slot-4, y+3), c)
		ebitenutil.DebugPrintAt(screen, fmt.Sprintf("%.1f", v), x+4, bottom+4)
	}
}

func (g *game) drawStatus(screen *ebiten.Image, y int) {
	msg := g.status
	if g.statusErr {
		fillRect(screen, image.Rect(8, y-2, 14, y+12), errorTextColor)
	}
	ebitenutil.DebugPrintAt(screen, shorten(msg, (g.viewW-40)/charW), 20, y)
}

func fillRect(dst *ebiten.Image, r image.Rectangle, c color.Color) {
	if r.Dx() <= 0 || r.Dy() <= 0 {
		return
	}
	ebitenutil.DrawRect(dst, float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()), c)
}

func mix(a, b color.RGBA, t float64) color.RGBA {
	lerp := func(x, y uint8) uint8 { return uint8(float64(x) + (float64(y)-float64(x))*t) }
	return color.RGBA{lerp(a.R, b.R), lerp(a.G, b.G), lerp(a.B, b.B), 255}
}

func shorten(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "~"
}

func main() {
	engine := config.Default()
	if path := os.Getenv("ORRERY_CONFIG"); path != "" {
		var err error
		if engine, err = config.Load(path); err != nil {
			log.Fatal(err)
		}
	}
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s events.json", filepath.Base(os.Args[0]))
	}
	p, err := filepath.Abs(os.Args[1])
	if err != nil {
		log.Fatalf("resolve %q: %v", os.Args[1], err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		log.Fatalf("read %q: %v", p, err)
	}

	g, err := newGame(engine, data, filepath.Base(p))
	if err != nil {
		log.Fatal(err)
	}
	defer g.Close()

	ebiten.SetWindowSize(windowW, windowH)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSizeLimits(minWindowW, minWindowH, -1, -1)
	ebiten.SetWindowTitle("orrery-go")
	if err := ebiten.RunGame(g); err != nil {
		log.Fatal(err)
	}
}
