package entity

import (
	"context"
	"fmt"

	"github.com/shahariaz/legacy_dump_migrator/internal/destination"
	"github.com/shahariaz/legacy_dump_migrator/internal/legacy"
	"github.com/shahariaz/legacy_dump_migrator/internal/pipeline"
)

// ChatMessage is a message inside a target chat
type ChatMessage struct {
	LegacyID   string `json:"legacy_id"`
	SenderID   string `json:"sender_id"`
	SenderKind string `json:"sender_kind"`
	Body       string `json:"body"`
	Read       bool   `json:"read"`
	CreatedAt  string `json:"created_at"`
}

// Chat is a conversation between one customer and one stylist. Legacy chats between
// the same pair are merged, messages included.
type Chat struct {
	LegacyIDs  []string      `json:"legacy_ids"`
	CustomerID string        `json:"customer_id"`
	StylistID  string        `json:"stylist_id"`
	BookingID  *string       `json:"booking_id,omitempty"`
	Messages   []ChatMessage `json:"messages"`
	CreatedAt  string        `json:"created_at"`
}

// ChatDefinition migrates chats and their messages
func ChatDefinition() pipeline.Definition[Chat] {
	return pipeline.Definition[Chat]{
		Name:      Chats,
		Table:     TableChats,
		DependsOn: []string{Users, Bookings},
		Transform: transformChats,
		Sources:   func(c *Chat) []pipeline.LegacyRef { return refs(MappingChats, c.LegacyIDs) },
		Key:       chatKey,
		Row:       chatRow,
		Merge: func(into, dup *Chat) {
			into.LegacyIDs = append(into.LegacyIDs, dup.LegacyIDs...)
			into.Messages = append(into.Messages, dup.Messages...)
			if into.BookingID == nil {
				into.BookingID = dup.BookingID
			}
			if dup.CreatedAt < into.CreatedAt {
				into.CreatedAt = dup.CreatedAt
			}
		},
		Children: []pipeline.Child[Chat]{{
			Table:      TableChatMessages,
			Rows:       messageRows,
			References: []pipeline.Reference{{Column: "sender_id", Table: TableUsers}},
		}},
		References: []pipeline.Reference{
			{Column: "customer_id", Table: TableUsers},
			{Column: "stylist_id", Table: TableUsers},
			{Column: "booking_id", Table: TableBookings},
		},
		Compare: []string{"customer_id", "stylist_id"},
	}
}

func transformChats(ctx context.Context, in *pipeline.Input) (*pipeline.Extraction[Chat], error) {
	x := &pipeline.Extraction[Chat]{}
	v, err := views(in.IDs, MappingBuyers, MappingStylists, MappingBookings)
	if err != nil {
		return nil, err
	}

	rows, err := in.Rows(legacy.TableChats, &x.Tally)
	if err != nil {
		return nil, err
	}
	// chat legacy id -> index into x.Records before dedupe
	byLegacyID := make(map[string]int, len(rows))
	for _, row := range rows {
		c, err := in.Mapper.Chat(row)
		if err != nil {
			invalid(&x.Tally, Chats, legacy.TableChats, row, err)
			continue
		}
		if x.Excluded(c.Audit, true) {
			continue
		}

		customerID, ok := v[MappingBuyers].Lookup(c.BuyerID)
		if !ok {
			x.Skip(Chats, legacy.TableChats, c.ID, notMigrated("buyer", c.BuyerID))
			continue
		}
		stylistID, ok := v[MappingStylists].Lookup(c.StylistID)
		if !ok {
			x.Skip(Chats, legacy.TableChats, c.ID, notMigrated("stylist", c.StylistID))
			continue
		}

		rec := Chat{
			LegacyIDs:  []string{c.ID},
			CustomerID: customerID,
			StylistID:  stylistID,
			CreatedAt:  c.CreatedAt,
		}
		if c.BookingID != nil {
			if bookingID, ok := v[MappingBookings].Lookup(*c.BookingID); ok {
				rec.BookingID = &bookingID
			} else {
				x.Add("unresolved_booking", 1)
			}
		}
		byLegacyID[c.ID] = len(x.Records)
		x.Records = append(x.Records, rec)
	}

	messages, err := in.OptionalRows(legacy.TableChatMessages, &x.Tally)
	if err != nil {
		return nil, err
	}
	for _, row := range messages {
		m, err := in.Mapper.Message(row)
		if err != nil {
			invalid(&x.Tally, Chats, legacy.TableChatMessages, row, err)
			continue
		}
		if x.Excluded(m.Audit, true) {
			continue
		}

		idx, ok := byLegacyID[m.ChatID]
		if !ok {
			x.Skip(Chats, legacy.TableChatMessages, m.ID, notMigrated("chat", m.ChatID))
			continue
		}
		sender := ResolveOwner(v[MappingBuyers], v[MappingStylists], m.SenderID)
		if !sender.Resolved() {
			x.Skip(Chats, legacy.TableChatMessages, m.ID,
				fmt.Sprintf("sender %s is neither a migrated buyer nor a migrated stylist", m.SenderID))
			continue
		}

		x.Records[idx].Messages = append(x.Records[idx].Messages, ChatMessage{
			LegacyID:   m.ID,
			SenderID:   sender.ID,
			SenderKind: string(sender.Kind),
			Body:       m.Body,
			Read:       m.Read,
			CreatedAt:  m.CreatedAt,
		})
		x.Add("messages", 1)
	}

	return x, nil
}

func chatKey(c *Chat) destination.Key {
	return destination.NewKey("customer_id", c.CustomerID, "stylist_id", c.StylistID)
}

func chatRow(c *Chat) destination.Row {
	return destination.Row{
		"customer_id": c.CustomerID,
		"stylist_id":  c.StylistID,
		"booking_id":  nullable(c.BookingID),
		"created_at":  c.CreatedAt,
	}
}

// messageRows keys each message by its legacy id. Sender and timestamp cannot serve:
// one sender may post twice in a second, and a missing timestamp is filled with the
// processing time.
func messageRows(c *Chat, chatID string) []pipeline.ChildRow {
	rows := make([]pipeline.ChildRow, 0, len(c.Messages))
	for _, m := range c.Messages {
		rows = append(rows, pipeline.ChildRow{
			LegacyID: m.LegacyID,
			Key:      destination.NewKey("chat_id", chatID, "legacy_message_id", m.LegacyID),
			Row: destination.Row{
				"chat_id":           chatID,
				"legacy_message_id": m.LegacyID,
				"sender_id":         m.SenderID,
				"sender_kind":       m.SenderKind,
				"body":              m.Body,
				"is_read":           m.Read,
				"created_at":        m.CreatedAt,
			},
		})
	}
	return rows
}
