package codec

import (
	"fmt"

	"github.com/deb2000-sudo/connrelay/internal/cryptoadapter"
	"github.com/deb2000-sudo/connrelay/pkg/models"
)

// compressedKinds lists the message kinds whose payload is large enough
// that zstd compression is worth the CPU cost: file chunks, both
// client-to-server and the client-to-client relay path.
func compressedKinds(kind models.InfoType) bool {
	switch kind {
	case models.InfoFileChunkClientToServer, models.InfoClientToClientFile:
		return true
	default:
		return false
	}
}

// SecureSerializer wraps a base Serializer with optional zstd compression
// and AEAD encryption. A one-byte compression flag is prepended ahead of
// the JSON payload so Unmarshal knows whether to decompress before it has
// parsed enough of the payload to know the message's Kind.
type SecureSerializer struct {
	Base Serializer
	AEAD *cryptoadapter.AEAD // nil disables encryption
}

func (s SecureSerializer) Marshal(m *models.Message) ([]byte, error) {
	payload, err := s.Base.Marshal(m)
	if err != nil {
		return nil, err
	}

	flag := byte(0)
	if compressedKinds(m.Kind) {
		compressed, err := cryptoadapter.CompressChunk(payload)
		if err != nil {
			return nil, fmt.Errorf("codec: compress payload: %w", err)
		}
		payload = compressed
		flag = 1
	}

	framed := make([]byte, 0, len(payload)+1)
	framed = append(framed, flag)
	framed = append(framed, payload...)

	if s.AEAD == nil {
		return framed, nil
	}
	sealed, err := s.AEAD.Seal(framed)
	if err != nil {
		return nil, fmt.Errorf("codec: encrypt payload: %w", err)
	}
	return sealed, nil
}

func (s SecureSerializer) Unmarshal(data []byte, m *models.Message) error {
	if s.AEAD != nil {
		opened, err := s.AEAD.Open(data)
		if err != nil {
			return fmt.Errorf("codec: decrypt payload: %w", err)
		}
		data = opened
	}
	if len(data) == 0 {
		return fmt.Errorf("codec: empty payload")
	}

	flag, payload := data[0], data[1:]
	if flag == 1 {
		decompressed, err := cryptoadapter.DecompressChunk(payload)
		if err != nil {
			return fmt.Errorf("codec: decompress payload: %w", err)
		}
		payload = decompressed
	}

	return s.Base.Unmarshal(payload, m)
}
