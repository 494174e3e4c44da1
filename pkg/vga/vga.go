// Copyright 2026 The degrados Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vga drives the 80x25 VGA text buffer.
package vga

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"degrados.dev/degrados/pkg/hostarch"
)

const (
	// Width is the number of columns.
	Width = 80

	// Height is the number of rows.
	Height = 25

	// BufferAddress is where the text buffer lives, physically and in the
	// kernel's identity mapping.
	BufferAddress hostarch.Addr = 0xb8000

	// BufferSize is the size of the text buffer in bytes.
	BufferSize = Width * Height * cellSize

	cellSize = 2

	// placeholder replaces bytes the code page cannot print.
	placeholder = 0xfe
)

// Color is a VGA palette index.
type Color uint8

// VGA palette.
const (
	Black Color = iota
	Blue
	Green
	Cyan
	Red
	Magenta
	Brown
	LightGray
	DarkGray
	LightBlue
	LightGreen
	LightCyan
	LightRed
	Pink
	Yellow
	White
)

// ColorCode is a foreground and background color pair.
type ColorCode uint8

// MakeColorCode returns the code for fg on bg.
func MakeColorCode(fg, bg Color) ColorCode {
	return ColorCode(bg)<<4 | ColorCode(fg)
}

// Foreground returns the foreground color.
func (c ColorCode) Foreground() Color {
	return Color(c & 0xf)
}

// Background returns the background color.
func (c ColorCode) Background() Color {
	return Color(c >> 4)
}

// Memory is the memory the buffer is accessed through.
type Memory interface {
	io.ReaderAt
	io.WriterAt
}

// Writer writes text to the bottom row of the buffer, scrolling up on
// newlines.
type Writer struct {
	mem    Memory
	addr   hostarch.Addr
	column int
	color  ColorCode
}

// NewWriter returns a writer for the buffer at addr.
func NewWriter(mem Memory, addr hostarch.Addr) *Writer {
	return &Writer{
		mem:   mem,
		addr:  addr,
		color: MakeColorCode(LightGray, Black),
	}
}

// SetColor changes the color of subsequent output.
func (w *Writer) SetColor(fg, bg Color) {
	w.color = MakeColorCode(fg, bg)
}

func (w *Writer) cellOffset(row, col int) int64 {
	return int64(w.addr) + int64((row*Width+col)*cellSize)
}

// Write implements io.Writer.Write.
func (w *Writer) Write(p []byte) (int, error) {
	for i, b := range p {
		if err := w.writeByte(b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

func (w *Writer) writeByte(b byte) error {
	if b == '\n' {
		return w.newLine()
	}
	if b < 0x20 || b > 0x7e {
		b = placeholder
	}
	if w.column >= Width {
		if err := w.newLine(); err != nil {
			return err
		}
	}
	if _, err := w.mem.WriteAt([]byte{b, byte(w.color)}, w.cellOffset(Height-1, w.column)); err != nil {
		return err
	}
	w.column++
	return nil
}

func (w *Writer) newLine() error {
	rows := make([]byte, (Height-1)*Width*cellSize)
	if _, err := w.mem.ReadAt(rows, w.cellOffset(1, 0)); err != nil {
		return err
	}
	if _, err := w.mem.WriteAt(rows, w.cellOffset(0, 0)); err != nil {
		return err
	}
	w.column = 0
	return w.clearRow(Height - 1)
}

func (w *Writer) clearRow(row int) error {
	blank := make([]byte, Width*cellSize)
	for i := 0; i < len(blank); i += cellSize {
		blank[i] = ' '
		blank[i+1] = byte(w.color)
	}
	_, err := w.mem.WriteAt(blank, w.cellOffset(row, 0))
	return err
}

// Clear blanks the screen.
func (w *Writer) Clear() error {
	for row := 0; row < Height; row++ {
		if err := w.clearRow(row); err != nil {
			return err
		}
	}
	w.column = 0
	return nil
}

// Cell is one character and its colors.
type Cell struct {
	Char  byte
	Color ColorCode
}

// Screen returns the buffer contents row by row.
func (w *Writer) Screen() ([Height][Width]Cell, error) {
	var screen [Height][Width]Cell
	raw := make([]byte, BufferSize)
	if _, err := w.mem.ReadAt(raw, int64(w.addr)); err != nil {
		return screen, err
	}
	for row := range screen {
		for col := range screen[row] {
			off := (row*Width + col) * cellSize
			screen[row][col] = Cell{Char: raw[off], Color: ColorCode(raw[off+1])}
		}
	}
	return screen, nil
}

// Lines returns the text of every row with trailing blanks removed.
func (w *Writer) Lines() ([]string, error) {
	screen, err := w.Screen()
	if err != nil {
		return nil, err
	}
	lines := make([]string, Height)
	for row := range screen {
		var b strings.Builder
		for _, c := range screen[row] {
			ch := c.Char
			if ch == 0 {
				ch = ' '
			}
			b.WriteByte(ch)
		}
		lines[row] = strings.TrimRight(b.String(), " ")
	}
	return lines, nil
}

// ansiColors maps the VGA palette to ANSI SGR color numbers.
var ansiColors = [16]int{30, 34, 32, 36, 31, 35, 33, 37, 90, 94, 92, 96, 91, 95, 93, 97}

// Render writes the non-empty part of the screen to out. With color set,
// cells keep their foreground color using ANSI escapes.
func (w *Writer) Render(out io.Writer, color bool) error {
	screen, err := w.Screen()
	if err != nil {
		return err
	}
	lines, err := w.Lines()
	if err != nil {
		return err
	}
	first := 0
	for first < Height && lines[first] == "" {
		first++
	}
	for row := first; row < Height; row++ {
		var b strings.Builder
		for col := 0; col < len(lines[row]); col++ {
			c := screen[row][col]
			if color {
				fmt.Fprintf(&b, "\x1b[%dm", ansiColors[c.Color.Foreground()])
			}
			b.WriteByte(lines[row][col])
		}
		if color {
			b.WriteString("\x1b[0m")
		}
		b.WriteByte('\n')
		if _, err := io.WriteString(out, b.String()); err != nil {
			return err
		}
	}
	return nil
}

var (
	mu     sync.Mutex
	global *Writer
)

// Init installs w as the console used by Printf.
func Init(w *Writer) {
	mu.Lock()
	defer mu.Unlock()
	global = w
}

// Console returns the installed writer, or nil.
func Console() *Writer {
	mu.Lock()
	defer mu.Unlock()
	return global
}

// Printf formats to the console. Output is dropped until Init is called.
func Printf(format string, v ...any) {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		return
	}
	fmt.Fprintf(global, format, v...)
}

// Println prints its operands and a newline to the console.
func Println(v ...any) {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		return
	}
	fmt.Fprintln(global, v...)
}
