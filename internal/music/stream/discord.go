// /internal/music/stream/discord.go
package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"layeh.com/gopus"
)

// SendOpus encodes PCM from src into 20ms opus frames and sends them to out
// (a voice connection's OpusSend) until src is exhausted or stop is closed.
// A clean end of stream returns nil.
func SendOpus(src io.Reader, stop <-chan struct{}, out chan<- []byte) error {
	encoder, err := gopus.NewEncoder(SampleRate, Channels, gopus.Audio)
	if err != nil {
		return fmt.Errorf("encoder error: %w", err)
	}

	pcmBuf := make([]byte, frameBytes)
	intBuf := make([]int16, FrameSize*Channels)

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		n, err := io.ReadFull(src, pcmBuf)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			// pad the last partial frame with silence
			clear(pcmBuf[n:])
		} else if err != nil {
			return fmt.Errorf("read error: %w", err)
		}

		for i := range intBuf {
			intBuf[i] = int16(binary.LittleEndian.Uint16(pcmBuf[i*2 : i*2+2]))
		}

		opus, encErr := encoder.Encode(intBuf, FrameSize, len(pcmBuf))
		if encErr != nil {
			return fmt.Errorf("encode error: %w", encErr)
		}

		select {
		case out <- opus:
		case <-stop:
			return nil
		}

		if err != nil {
			return nil
		}
	}
}
