package postgres

import (
	"time"

	"github.com/xraph/grove"
)

type kvModel struct {
	grove.BaseModel `grove:"table:getanswer_kv"`

	Key       string    `grove:"key,pk"`
	Value     []byte    `grove:"value"`
	UpdatedAt time.Time `grove:"updated_at"`
}
