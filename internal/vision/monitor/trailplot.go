package monitor

import (
	"fmt"
	"log"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/vlasvlasvlas/cupdance/internal/httputil"
	"github.com/vlasvlasvlas/cupdance/internal/vision"
	"github.com/vlasvlasvlas/cupdance/internal/vision/memory"
)

// trailGrid adapts a memory trail to plotter.GridXYZ. Row 0 of the trail
// is the top of the floor plane, so Z flips the row index.
type trailGrid struct {
	trail memory.Trail
}

func (g trailGrid) Dims() (c, r int) { return vision.GridSize, vision.GridSize }

func (g trailGrid) X(c int) float64 { return float64(c) }

func (g trailGrid) Y(r int) float64 { return float64(r) }

func (g trailGrid) Z(c, r int) float64 {
	row := vision.GridSize - 1 - r
	return float64(g.trail[row*vision.GridSize+c])
}

// handleTrailPNG renders the current memory trail as a heatmap PNG.
func (ws *WebServer) handleTrailPNG(w http.ResponseWriter, r *http.Request) {
	if ws.history == nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, "no history configured")
		return
	}
	snap, trail := ws.history.Latest()
	if snap == nil {
		httputil.NotFound(w, "no snapshot published yet")
		return
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Memory Trail (version %d)", snap.Version)
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row"

	pal := moreland.SmoothBlueRed().Palette(255)
	hm := plotter.NewHeatMap(trailGrid{trail: trail}, pal)
	hm.Min = 0
	hm.Max = 1
	p.Add(hm)

	canvas := vgimg.PngCanvas{Canvas: vgimg.New(6*vg.Inch, 6*vg.Inch)}
	p.Draw(draw.New(canvas))

	w.Header().Set("Content-Type", "image/png")
	if _, err := canvas.WriteTo(w); err != nil {
		// Headers already sent; nothing useful to do beyond noting it.
		log.Printf("trail png write failed: %v", err)
	}
}
