package minimap

import (
	"image"
	"image/color"
	"io"
	"math"

	"arena-relay/internal/relay"

	"github.com/fogleman/gg"
)

// Config sizes the minimap and maps arena coordinates onto it.
type Config struct {
	Width    int
	Height   int
	Bounds   relay.Bounds
	FontPath string // optional TTF for player labels
}

// Renderer draws a top-down view of one tenant's roster.
type Renderer struct {
	cfg Config
}

// NewRenderer creates a renderer. Degenerate bounds fall back to ±1.
func NewRenderer(cfg Config) *Renderer {
	if cfg.Width <= 0 {
		cfg.Width = 512
	}
	if cfg.Height <= 0 {
		cfg.Height = 512
	}
	if cfg.Bounds.MaxX <= cfg.Bounds.MinX {
		cfg.Bounds.MinX, cfg.Bounds.MaxX = -1, 1
	}
	if cfg.Bounds.MaxZ <= cfg.Bounds.MinZ {
		cfg.Bounds.MinZ, cfg.Bounds.MaxZ = -1, 1
	}
	return &Renderer{cfg: cfg}
}

// Render draws the roster. Ground plane only: x to the right, z up.
func (r *Renderer) Render(players []relay.Player, env relay.Environment) image.Image {
	return r.draw(players, env).Image()
}

// EncodePNG renders and writes the result as PNG.
func (r *Renderer) EncodePNG(w io.Writer, players []relay.Player, env relay.Environment) error {
	return r.draw(players, env).EncodePNG(w)
}

func (r *Renderer) draw(players []relay.Player, env relay.Environment) *gg.Context {
	dc := gg.NewContext(r.cfg.Width, r.cfg.Height)

	r.drawBackground(dc, env)
	r.drawGrid(dc)
	for _, p := range players {
		if p.Alive {
			continue
		}
		r.drawPlayer(dc, p)
	}
	// living players on top of the dead
	for _, p := range players {
		if p.Alive {
			r.drawPlayer(dc, p)
		}
	}
	return dc
}

// project maps an arena position to pixel coordinates.
func (r *Renderer) project(x, z float64) (float64, float64) {
	b := r.cfg.Bounds
	px := (x - b.MinX) / (b.MaxX - b.MinX) * float64(r.cfg.Width)
	py := (b.MaxZ - z) / (b.MaxZ - b.MinZ) * float64(r.cfg.Height)
	return px, py
}

func (r *Renderer) drawBackground(dc *gg.Context, env relay.Environment) {
	// Midday is brightest; midnight darkest.
	daylight := 0.5 + 0.5*math.Cos((env.TimeOfDay-12)/12*math.Pi)
	base := 12 + daylight*30
	dc.SetColor(color.RGBA{uint8(base), uint8(base), uint8(base + 16), 255})
	dc.DrawRectangle(0, 0, float64(r.cfg.Width), float64(r.cfg.Height))
	dc.Fill()

	if env.FogDensity > 0 {
		dc.SetColor(color.RGBA{180, 180, 190, uint8(env.FogDensity * 96)})
		dc.DrawRectangle(0, 0, float64(r.cfg.Width), float64(r.cfg.Height))
		dc.Fill()
	}
}

func (r *Renderer) drawGrid(dc *gg.Context) {
	dc.SetColor(color.RGBA{30, 30, 45, 255})
	dc.SetLineWidth(1)

	const lines = 8
	w, h := float64(r.cfg.Width), float64(r.cfg.Height)
	for i := 1; i < lines; i++ {
		x := w * float64(i) / lines
		dc.DrawLine(x, 0, x, h)
		dc.Stroke()
		y := h * float64(i) / lines
		dc.DrawLine(0, y, w, y)
		dc.Stroke()
	}
}

func (r *Renderer) drawPlayer(dc *gg.Context, p relay.Player) {
	x, y := r.project(p.X, p.Z)
	radius := math.Max(3, float64(r.cfg.Width)/96)

	if !p.Alive {
		dc.SetColor(color.RGBA{110, 110, 110, 255})
		dc.DrawCircle(x, y, radius)
		dc.Fill()
		return
	}

	dc.SetColor(healthColor(p.Health, p.MaxHealth))
	dc.DrawCircle(x, y, radius)
	dc.Fill()

	// Heading
	dc.SetColor(color.White)
	dc.SetLineWidth(2)
	dc.DrawLine(x, y, x+math.Sin(p.Yaw)*radius*2, y-math.Cos(p.Yaw)*radius*2)
	dc.Stroke()

	if p.Name != "" && r.cfg.FontPath != "" {
		if err := dc.LoadFontFace(r.cfg.FontPath, 12); err == nil {
			dc.DrawStringAnchored(p.Name, x, y+radius+10, 0.5, 0.5)
		}
	}
}

func healthColor(health, maxHealth float64) color.RGBA {
	pct := 0.0
	if maxHealth > 0 {
		pct = health / maxHealth
	}
	switch {
	case pct > 0.5:
		return color.RGBA{83, 255, 69, 255}
	case pct > 0.25:
		return color.RGBA{255, 149, 0, 255}
	default:
		return color.RGBA{255, 62, 62, 255}
	}
}
