package chat

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mahaj/pulse-chat/pkg/model"
)

// populate fills the user references of msgs in place: sender, receiver and
// the details of every reacting user.
func (h *Hub) populate(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, m := range msgs {
		add(m.Sender.ID)
		add(m.Receiver.ID)
		for _, r := range m.Reactions {
			add(r.User)
		}
	}

	users, err := h.store.Users(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "populate users")
	}
	ref := func(id string) model.UserRef {
		if u, ok := users[id]; ok {
			return u.Ref()
		}
		return model.UserRef{ID: id}
	}
	for i := range msgs {
		m := &msgs[i]
		m.Sender = ref(m.Sender.ID)
		m.Receiver = ref(m.Receiver.ID)
		m.Reactions = populateReactions(m.Reactions, ref)
	}
	return nil
}

func populateReactions(rs []model.Reaction, ref func(string) model.UserRef) []model.Reaction {
	out := make([]model.Reaction, len(rs))
	for i, r := range rs {
		u := ref(r.User)
		out[i] = model.Reaction{User: r.User, Emoji: r.Emoji, UserDetails: &u}
	}
	return out
}

func (h *Hub) populateOne(ctx context.Context, m *model.Message) error {
	msgs := []model.Message{*m}
	if err := h.populate(ctx, msgs); err != nil {
		return err
	}
	*m = msgs[0]
	return nil
}
