// Package payload turns domain events into the opaque data field carried by
// witness transactions on the ledger node. The node never interprets it.
package payload

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

const (
	Prefix    = "0x"
	Delimiter = "|"

	KindAddProduct    = "ADD_PRODUCT"
	KindUpdateProduct = "UPDATE_PRODUCT"
)

var ErrMalformed = errors.New("malformed payload")

type Event struct {
	Kind      string
	SubjectID string
	Quantity  int64
	Tag       string
	At        time.Time
}

// Encode renders kind|subjectId|quantity|tag|epochMillis as ASCII and
// hex-encodes it behind Prefix. The output depends only on the event.
func Encode(e Event) string {
	fields := []string{
		sanitize(e.Kind),
		sanitize(e.SubjectID),
		strconv.FormatInt(e.Quantity, 10),
		sanitize(e.Tag),
		strconv.FormatInt(e.At.UnixMilli(), 10),
	}
	return Prefix + hex.EncodeToString([]byte(strings.Join(fields, Delimiter)))
}

func Decode(data string) (Event, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(data, Prefix))
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	fields := strings.Split(string(raw), Delimiter)
	if len(fields) != 5 {
		return Event{}, fmt.Errorf("%w: expected 5 fields, got %d", ErrMalformed, len(fields))
	}
	qty, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("%w: quantity: %v", ErrMalformed, err)
	}
	millis, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
	}
	return Event{
		Kind:      fields[0],
		SubjectID: fields[1],
		Quantity:  qty,
		Tag:       fields[3],
		At:        time.UnixMilli(millis).UTC(),
	}, nil
}

// ForTransaction uses the transaction's own ID and timestamp so that a
// resubmission of the same record carries an identical payload.
func ForTransaction(t domain.Transaction) Event {
	return Event{
		Kind:      string(t.Type),
		SubjectID: t.ProductID,
		Quantity:  t.Quantity,
		Tag:       t.ID,
		At:        t.Timestamp,
	}
}

func ForProduct(kind string, p domain.Product) Event {
	return Event{
		Kind:      kind,
		SubjectID: p.ID,
		Quantity:  p.CurrentStock,
		Tag:       p.Name,
		At:        p.UpdatedAt,
	}
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == Delimiter[0]:
			b.WriteByte('/')
		case c < 0x20 || c > 0x7e:
			// non-printable and non-ASCII bytes are dropped
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
