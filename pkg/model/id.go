package model

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"
)

// ID is a snowflake id as a standalone JSON value. It encodes as a string,
// since snowflake ids do not fit a float64 mantissa, and decodes from a
// string or a number. Struct fields get the same encoding from a ",string"
// tag.
type ID int64

func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatInt(int64(id), 10))), nil
}

func (id *ID) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseInt(string(bytes.Trim(b, `"`)), 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid id %s", b)
	}
	*id = ID(v)
	return nil
}

// IDs converts a decoded id list to plain ids.
func IDs(ids []ID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
