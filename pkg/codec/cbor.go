package codec

import (
	"errors"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/modoterra/logrelay/pkg/core"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Property values decoded into any must be usable by encoding/json.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeCBOR(e *core.LogEntry) ([]byte, error) {
	return encMode.Marshal(e)
}

// cborRequired tells a missing message apart from an empty one.
type cborRequired struct {
	Message *string `cbor:"message"`
}

func decodeCBOR(data []byte) (*core.LogEntry, error) {
	var e core.LogEntry
	if err := decMode.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	var req cborRequired
	if err := decMode.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if req.Message == nil {
		return nil, errors.New("message must be a string")
	}
	return &e, nil
}
