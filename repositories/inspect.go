package repositories

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Record is a human readable view of one stored entry.
type Record struct {
	Key    string
	Kind   string
	At     time.Time
	ID     string
	Detail string
}

// Describe decodes a raw entry from its key prefix. Entries that fail to
// decode are still returned, with the error as detail.
func Describe(key string, value []byte) Record {
	kind, _, _ := strings.Cut(key, ":")
	record := Record{Key: key, Kind: strings.ToUpper(kind), Detail: fmt.Sprintf("%d bytes", len(value))}
	var err error
	switch kind {
	case "msg":
		err = describeMessage(&record, value)
	case "seq", "rd":
		var sequence uint64
		if sequence, err = decodeSequence(value); err == nil {
			record.Detail = fmt.Sprintf("sequence %d", sequence)
		}
	case "mid":
		var pointer messagePointer
		if pointer, err = decodePointer(value); err == nil {
			record.Detail = fmt.Sprintf("%s #%d", pointer.Topic, pointer.Sequence)
		}
	case "rx":
		err = describeReaction(&record, value)
	case "conv":
		err = describeConversation(&record, value)
	case "cmty":
		err = describeCommunity(&record, value)
	case "mbr":
		err = describeMembership(&record, value)
	case "convkey", "cmtycc":
		record.Detail = string(value)
	case "uconv", "umbr":
		record.Detail = "index"
	default:
		record.Kind = "RAW"
	}
	if err != nil {
		record.Detail = "corrupted: " + err.Error()
	}
	return record
}

func describeMessage(record *Record, value []byte) error {
	message, err := decodeMessage(value)
	if err != nil {
		return err
	}
	record.ID, record.At = message.ID.String(), message.CreatedAt
	flags := ""
	if message.Edited {
		flags += " [edited]"
	}
	if message.Deleted {
		flags += " [deleted]"
	}
	record.Detail = fmt.Sprintf("#%d %s: %s%s", message.Sequence, message.SenderID, message.Content, flags)
	return nil
}

func describeReaction(record *Record, value []byte) error {
	reaction, err := decodeReaction(value)
	if err != nil {
		return err
	}
	record.At = reaction.At
	record.Detail = fmt.Sprintf("%s %s", reaction.UserID, reaction.Type)
	return nil
}

func describeConversation(record *Record, value []byte) error {
	conversation, err := decodeConversation(value)
	if err != nil {
		return err
	}
	record.ID, record.At = conversation.ID.String(), conversation.UpdatedAt
	record.Detail = fmt.Sprintf("%s active=%t unread=%v",
		strings.Join(conversation.ParticipantIDs, ","), conversation.IsActive, conversation.UnreadCount)
	return nil
}

func describeCommunity(record *Record, value []byte) error {
	c, err := decodeCommunity(value)
	if err != nil {
		return err
	}
	record.ID, record.At = c.ID.String(), c.CreatedAt
	record.Detail = fmt.Sprintf("%s (%s) members=%d", c.Name, c.CountryCode, c.MemberCount)
	return nil
}

func describeMembership(record *Record, value []byte) error {
	membership, err := decodeMembership(value)
	if err != nil {
		return err
	}
	record.ID, record.At = membership.CommunityID.String(), membership.JoinedAt
	record.Detail = fmt.Sprintf("%s %s", membership.UserID, membership.Status())
	return nil
}

var errStopScan = errors.New("stop scan")

// Scan describes every entry whose key starts with prefix, in key order.
// A limit of zero or less means no limit.
func Scan(db *badger.DB, prefix string, limit int) ([]Record, error) {
	var records []Record
	err := db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte(prefix), func(key, value []byte) error {
			if limit > 0 && len(records) >= limit {
				return errStopScan
			}
			records = append(records, Describe(string(key), value))
			return nil
		})
	})
	if errors.Is(err, errStopScan) {
		err = nil
	}
	return records, err
}
