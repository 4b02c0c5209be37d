package render

import (
	"bytes"
	"embed"
	"fmt"
	"image"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

//go:embed assets/pieces/*.svg
var pieceFiles embed.FS

var pieceLetters = map[nchess.PieceType]string{
	nchess.King:   "K",
	nchess.Queen:  "Q",
	nchess.Rook:   "R",
	nchess.Bishop: "B",
	nchess.Knight: "N",
	nchess.Pawn:   "P",
}

// pieceSet holds every piece rasterised at one size.
type pieceSet struct {
	once   sync.Once
	images map[nchess.Piece]image.Image
	err    error
}

var sets sync.Map // int -> *pieceSet

func pieceImage(piece nchess.Piece, size int) (image.Image, error) {
	v, _ := sets.LoadOrStore(size, &pieceSet{})
	set := v.(*pieceSet)
	set.once.Do(func() { set.images, set.err = rasterizeAll(size) })
	if set.err != nil {
		return nil, set.err
	}
	img, ok := set.images[piece]
	if !ok {
		return nil, fmt.Errorf("no image for piece %v", piece)
	}
	return img, nil
}

func rasterizeAll(size int) (map[nchess.Piece]image.Image, error) {
	out := make(map[nchess.Piece]image.Image, 12)
	for _, c := range []nchess.Color{nchess.White, nchess.Black} {
		for pt := range pieceLetters {
			p := nchess.NewPiece(pt, c)
			img, err := rasterize(assetName(p), size)
			if err != nil {
				return nil, err
			}
			out[p] = img
		}
	}
	return out, nil
}

func rasterize(name string, size int) (image.Image, error) {
	data, err := pieceFiles.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))
	// NewRGBA starts fully transparent
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1)
	return img, nil
}

// assetName follows the wK/bN file naming of the embedded set.
func assetName(p nchess.Piece) string {
	side := "b"
	if p.Color() == nchess.White {
		side = "w"
	}
	return "assets/pieces/" + side + pieceLetters[p.Type()] + ".svg"
}
