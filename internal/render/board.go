// Package render draws game positions as PNG images.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	squareSize = 64
	margin     = 24
	boardSize  = squareSize * 8
)

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	lastMoveFill    = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	checkFill       = color.NRGBA{R: 220, G: 60, B: 60, A: 150}
	backgroundColor = color.RGBA{28, 31, 46, 255}
	coordinateColor = color.RGBA{204, 210, 236, 255}
)

// Options controls orientation and overlays.
type Options struct {
	// BlackBottom draws the board from black's side.
	BlackBottom bool
}

// Board replays moves (SAN) from the initial position and renders the result with the
// last move highlighted.
func Board(ctx context.Context, moves []string, opts Options) ([]byte, error) {
	g := nchess.NewGame()
	for i, mv := range moves {
		if err := g.PushNotationMove(mv, nchess.AlgebraicNotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay ply %d %q: %w", i+1, mv, err)
		}
	}
	var last *nchess.Move
	if played := g.Moves(); len(played) > 0 {
		last = played[len(played)-1]
	}
	return renderPosition(ctx, g.Position(), last, opts)
}

func renderPosition(ctx context.Context, pos *nchess.Position, last *nchess.Move, opts Options) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	total := boardSize + margin*2
	img := image.NewRGBA(image.Rect(0, 0, total, total))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)
	origin := image.Point{X: margin, Y: margin}
	board := pos.Board()

	for sq := nchess.A1; sq <= nchess.H8; sq++ {
		imagedraw.Draw(img, squareRect(sq, origin, opts), image.NewUniform(squareColor(sq)), image.Point{}, imagedraw.Src)
	}
	if last != nil {
		overlay(img, last.S1(), origin, opts, lastMoveFill)
		overlay(img, last.S2(), origin, opts, lastMoveFill)
		if last.HasTag(nchess.Check) {
			for sq := nchess.A1; sq <= nchess.H8; sq++ {
				if p := board.Piece(sq); p.Type() == nchess.King && p.Color() == pos.Turn() {
					overlay(img, sq, origin, opts, checkFill)
				}
			}
		}
	}
	for sq, piece := range board.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		pimg, err := pieceImage(piece, squareSize)
		if err != nil {
			return nil, err
		}
		r := squareRect(sq, origin, opts)
		imagedraw.Draw(img, r, pimg, image.Point{}, imagedraw.Over)
	}
	drawCoordinates(img, origin, opts)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// squareRect maps sq to pixels; rank 8 is at the top unless BlackBottom.
func squareRect(sq nchess.Square, origin image.Point, opts Options) image.Rectangle {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	if opts.BlackBottom {
		col = 7 - col
		row = 7 - row
	}
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func overlay(img *image.RGBA, sq nchess.Square, origin image.Point, opts Options, clr color.Color) {
	imagedraw.Draw(img, squareRect(sq, origin, opts), image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

func drawCoordinates(dst *image.RGBA, origin image.Point, opts Options) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Face: face, Src: image.NewUniform(coordinateColor)}
	ascent := face.Metrics().Ascent.Ceil()
	for i := 0; i < 8; i++ {
		file := nchess.File(i)
		rank := nchess.Rank(i)
		fr := squareRect(nchess.NewSquare(file, nchess.Rank1), origin, opts)
		centered(d, file.String(), (fr.Min.X+fr.Max.X)/2, origin.Y+boardSize+ascent+4)
		rr := squareRect(nchess.NewSquare(nchess.FileA, rank), origin, opts)
		centered(d, rank.String(), origin.X-margin/2, (rr.Min.Y+rr.Max.Y)/2+ascent/2)
	}
}

func centered(d *font.Drawer, text string, centerX, baseline int) {
	w := d.MeasureString(text).Round()
	d.Dot = fixed.P(centerX-w/2, baseline)
	d.DrawString(text)
}
