package hymnplayer

import (
	"context"
	"encoding/binary"
	"math"
)

// renderBlock matches a typical device callback size.
const renderBlock = 512

// tailSeconds is rendered past the end of the song.
const tailSeconds = 1.0

// RenderSong loads src into an offline player, plays it from the start and
// returns up to seconds of interleaved stereo audio. When the song ends
// first, rendering continues for one more second so release tails ring out,
// then stops. A non-positive seconds renders the whole song.
func RenderSong(ctx context.Context, src string, seconds float64, opts ...PlayerOption) ([]float32, int, error) {
	opts = append(opts, WithOfflineRendering())
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	sampleRate := cfg.cfg.SampleRate
	p, err := NewPlayer(sampleRate, opts...)
	if err != nil {
		return nil, 0, err
	}
	defer p.Close()
	if err := p.Load(ctx, src); err != nil {
		return nil, 0, err
	}
	if seconds <= 0 {
		seconds = p.Duration() + tailSeconds
	}
	if err := p.Play(); err != nil {
		return nil, 0, err
	}
	frames := int(float64(sampleRate) * seconds)
	out := make([]float32, frames*2)
	tail := -1 // frames left after the end of the song
	off := 0
	for off < frames && tail != 0 {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		n := min(renderBlock, frames-off)
		if tail > 0 {
			n = min(n, tail)
			tail -= n
		}
		p.Render(out[off*2 : (off+n)*2])
		off += n
		if tail < 0 && p.State() != Playing {
			tail = int(float64(sampleRate) * tailSeconds)
		}
	}
	return out[:off*2], sampleRate, nil
}

func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
