package codec

import (
	"encoding/json"

	"github.com/deb2000-sudo/connrelay/pkg/models"
)

// JSONSerializer is the default Serializer, matching the encoding/json use
// for wire metadata throughout internal/transport's original tcp_sender.go
// and tcp_receiver.go. Any Serializer implementation is an acceptable
// choice; JSON keeps the payload self-describing and easy to extend
// without a version bump to the binary frame layout.
type JSONSerializer struct{}

func (JSONSerializer) Marshal(m *models.Message) ([]byte, error) {
	return json.Marshal(m)
}

func (JSONSerializer) Unmarshal(data []byte, m *models.Message) error {
	return json.Unmarshal(data, m)
}
