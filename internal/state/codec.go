package state

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Format selects the on-disk encoding of a snapshot.
type Format string

const (
	// FormatJSON is indented JSON, readable and diffable.
	FormatJSON Format = "json"
	// FormatCBOR is deterministic CBOR (RFC 8949 core encoding).
	FormatCBOR Format = "cbor"
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("state: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("state: CBOR decoder initialization failed: " + err.Error())
	}
}

// ParseFormat validates a format name. The empty string selects JSON.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCBOR:
		return FormatCBOR, nil
	default:
		return "", fmt.Errorf("unknown state format %q", name)
	}
}

func (f Format) marshal(s *Snapshot) ([]byte, error) {
	if f == FormatCBOR {
		return cborEnc.Marshal(s)
	}
	return json.MarshalIndent(s, "", "  ")
}

func (f Format) unmarshal(data []byte, s *Snapshot) error {
	if f == FormatCBOR {
		return cborDec.Unmarshal(data, s)
	}
	return json.Unmarshal(data, s)
}

func (f Format) ext() string {
	if f == FormatCBOR {
		return ".cbor"
	}
	return ".json"
}
