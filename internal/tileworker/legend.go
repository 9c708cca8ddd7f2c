// Package tileworker renders a single (variable, level, time) slice of a
// cube.Cube into a pyramid of PNG/WebP map tiles plus legend side-cars,
// the per-unit work dispatched by internal/tilesched's worker pool.
package tileworker

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"image/color"
	"math"
	"os"
	"sort"

	"github.com/dankermu/digital-earth/internal/apperr"
)

// Kind selects how a Legend maps a physical value to a color.
type Kind string

const (
	KindGradient    Kind = "gradient"
	KindCategorical Kind = "categorical"
)

// Stop is one color anchor: for a gradient legend, stops are interpolated
// between by Value; for a categorical legend, Value is matched exactly.
type Stop struct {
	Value float64
	Color color.RGBA
}

type stopJSON struct {
	Value float64 `json:"value"`
	Color string  `json:"color"`
}

// MarshalJSON renders the stop's color as "#rrggbb" (alpha is a rendering
// concern controlled by Legend.Opacity, not part of a stop's identity).
func (s Stop) MarshalJSON() ([]byte, error) {
	return json.Marshal(stopJSON{
		Value: s.Value,
		Color: fmt.Sprintf("#%02x%02x%02x", s.Color.R, s.Color.G, s.Color.B),
	})
}

// Legend maps physical values to RGBA pixels.
type Legend struct {
	Title   string `json:"title"`
	Unit    string `json:"unit"`
	Kind    Kind   `json:"-"`
	Stops   []Stop `json:"stops"`
	Opacity float64 `json:"-"`
}

// NewLegend validates opacity and sorts gradient stops by value.
func NewLegend(title, unit string, kind Kind, stops []Stop, opacity float64) (*Legend, error) {
	if opacity < 0 || opacity > 1 {
		return nil, apperr.New(apperr.InvalidArgument, fmt.Sprintf("legend opacity must be in [0, 1], got %v", opacity))
	}
	if len(stops) == 0 {
		return nil, apperr.New(apperr.InvalidArgument, "legend must have at least one stop")
	}
	sorted := append([]Stop(nil), stops...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })
	return &Legend{Title: title, Unit: unit, Kind: kind, Stops: sorted, Opacity: opacity}, nil
}

// Min and Max report the legend's value domain.
func (l *Legend) Min() float64 { return l.Stops[0].Value }
func (l *Legend) Max() float64 { return l.Stops[len(l.Stops)-1].Value }

// ValueToRGBA converts one physical value to an RGBA pixel per the
// legend's kind. NaN, and values outside [Min, Max], get alpha 0.
func (l *Legend) ValueToRGBA(v float64) color.RGBA {
	if math.IsNaN(v) || v < l.Min() || v > l.Max() {
		return color.RGBA{}
	}
	alpha := uint8(math.Round(l.Opacity * 255))

	switch l.Kind {
	case KindCategorical:
		for _, s := range l.Stops {
			if s.Value == v {
				c := s.Color
				c.A = alpha
				return c
			}
		}
		return color.RGBA{}
	default:
		return l.gradientColor(v, alpha)
	}
}

func (l *Legend) gradientColor(v float64, alpha uint8) color.RGBA {
	stops := l.Stops
	if len(stops) == 1 {
		c := stops[0].Color
		c.A = alpha
		return c
	}
	for i := 0; i < len(stops)-1; i++ {
		lo, hi := stops[i], stops[i+1]
		if v >= lo.Value && v <= hi.Value {
			span := hi.Value - lo.Value
			t := 0.0
			if span > 0 {
				t = (v - lo.Value) / span
			}
			return color.RGBA{
				R: lerpByte(lo.Color.R, hi.Color.R, t),
				G: lerpByte(lo.Color.G, hi.Color.G, t),
				B: lerpByte(lo.Color.B, hi.Color.B, t),
				A: alpha,
			}
		}
	}
	c := stops[len(stops)-1].Color
	c.A = alpha
	return c
}

func lerpByte(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + t*(float64(b)-float64(a))))
}

// legendDocument is the JSON shape written to legend.json side-cars.
type legendDocument struct {
	Title   string  `json:"title"`
	Unit    string  `json:"unit"`
	Stops   []Stop  `json:"stops"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Version string  `json:"version"`
}

// Version returns a stable digest of the legend's stops, used so two
// side-car files for the same legend always agree and callers can detect
// a changed legend.
func (l *Legend) Version() (string, error) {
	payload, err := json.Marshal(l.Stops)
	if err != nil {
		return "", apperr.Wrap(apperr.EncodeErr, "failed to marshal legend stops for digest", err)
	}
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("sha256-%x", sum), nil
}

func (l *Legend) document() (legendDocument, error) {
	version, err := l.Version()
	if err != nil {
		return legendDocument{}, err
	}
	return legendDocument{
		Title:   l.Title,
		Unit:    l.Unit,
		Stops:   l.Stops,
		Min:     l.Min(),
		Max:     l.Max(),
		Version: version,
	}, nil
}

// legendConfig is the on-disk shape of a legend definition file (the file
// passed to `tiles render --legend`): one JSON document per layer, giving
// its title, unit, kind, opacity and gradient/categorical stop list.
type legendConfig struct {
	Title   string     `json:"title"`
	Unit    string     `json:"unit"`
	Kind    Kind       `json:"kind"`
	Opacity float64    `json:"opacity"`
	Stops   []stopJSON `json:"stops"`
}

// LoadLegend reads and parses a legend definition file from path.
func LoadLegend(path string) (*Legend, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageErr, fmt.Sprintf("failed to read legend file: %s", path), err)
	}
	var cfg legendConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, fmt.Sprintf("failed to parse legend file: %s", path), err)
	}
	stops := make([]Stop, len(cfg.Stops))
	for i, s := range cfg.Stops {
		c, err := parseHexColor(s.Color)
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidArgument, fmt.Sprintf("legend file %s: stop %d", path, i), err)
		}
		stops[i] = Stop{Value: s.Value, Color: c}
	}
	return NewLegend(cfg.Title, cfg.Unit, cfg.Kind, stops, cfg.Opacity)
}

func parseHexColor(s string) (color.RGBA, error) {
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return color.RGBA{}, apperr.New(apperr.InvalidArgument, fmt.Sprintf("invalid color %q, want #rrggbb", s))
	}
	return color.RGBA{R: r, G: g, B: b, A: 0xff}, nil
}
