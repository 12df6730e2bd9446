package storage

import (
	"encoding"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// DBIdentity is the identity the client last joined with, kept so the next
// run can rejoin without asking again.
type DBIdentity struct {
	Username string `msgpack:"username"`
	Room     string `msgpack:"room"`
	SavedAt  int64  `msgpack:"savedAt"`
}

func (i *DBIdentity) Key() []byte {
	return keyLastIdentity
}

func (i *DBIdentity) MarshalBinary() (data []byte, err error) {
	type alias DBIdentity
	return msgpack.Marshal((*alias)(i))
}

func (i *DBIdentity) UnmarshalBinary(data []byte) error {
	type alias DBIdentity
	return msgpack.Unmarshal(data, (*alias)(i))
}
