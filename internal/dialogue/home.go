package dialogue

import (
	"context"
	"time"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
	"github.com/pondem87/thuso-monorepo-sub000/internal/menu"
)

const (
	homeMenuName   = menu.Home
	fallbackText   = "Sorry, I didn't understand that. Please pick an option from the menu."
	unsupportedMsg = "Sorry, I can only read text messages and menu selections for now."
)

func (a *Actor) handleHome(ctx context.Context, req Request) (Outcome, error) {
	msg := req.Message

	if body, ok := msg.TextBody(); ok {
		a.forward(ctx, FreeText{
			ChannelNumberID: req.Context.Channel.ChannelNumberID,
			UserID:          req.Context.Contact.WaID,
			Name:            req.Context.Contact.Name,
			MessageID:       msg.ID,
			Body:            body,
			ReceivedAt:      time.Now().UTC(),
		})
		return Outcome{Transition: TransitionNoChange}, nil
	}

	if sel, ok := msg.Selection(); ok {
		if sel.ID == menu.ItemProducts {
			return Outcome{Transition: TransitionProducts}, nil
		}
		return Outcome{
			Transition: TransitionNoChange,
			Messages: []domain.Descriptor{
				domain.TextDescriptor(fallbackText),
				domain.MenuDescriptor(homeMenuName),
			},
		}, nil
	}

	return Outcome{
		Transition: TransitionNoChange,
		Messages: []domain.Descriptor{
			domain.TextDescriptor(unsupportedMsg),
			domain.MenuDescriptor(homeMenuName),
		},
	}, nil
}
