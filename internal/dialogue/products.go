package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
	"github.com/pondem87/thuso-monorepo-sub000/internal/whatsapp"
)

// Row ids of the product list.
const (
	RowNext       = "nav:next"
	RowPrevious   = "nav:previous"
	RowExit       = "nav:exit"
	productPrefix = "product:"
)

const (
	catalogUnavailableText = "Our product list is unavailable right now. Please try again in a little while."
	productsFallbackText   = "Please choose a product or an option from the list."
)

func (a *Actor) handleProductsMenu(_ context.Context, req Request) (Outcome, error) {
	sel, ok := req.Message.Selection()
	if !ok {
		return Outcome{
			Transition: TransitionNoChange,
			Messages:   []domain.Descriptor{domain.TextDescriptor(productsFallbackText)},
		}, nil
	}

	p := req.Context.Pagination
	switch {
	case sel.ID == RowNext:
		skip := p.Skip + p.Take
		if p.Total > 0 && skip >= p.Total {
			skip = p.Skip
		}
		return Outcome{Transition: TransitionNoChange, Skip: &skip}, nil
	case sel.ID == RowPrevious:
		skip := p.Skip - p.Take
		if skip < 0 {
			skip = 0
		}
		return Outcome{Transition: TransitionNoChange, Skip: &skip}, nil
	case sel.ID == RowExit:
		return Outcome{Transition: TransitionExitProducts}, nil
	case strings.HasPrefix(sel.ID, productPrefix):
		return Outcome{
			Transition: TransitionNoChange,
			Messages:   []domain.Descriptor{domain.TextDescriptor(productDetailText(sel))},
		}, nil
	}

	return Outcome{
		Transition: TransitionNoChange,
		Messages:   []domain.Descriptor{domain.TextDescriptor(productsFallbackText)},
	}, nil
}

func productDetailText(sel *domain.Reply) string {
	var b strings.Builder
	b.WriteString("*")
	b.WriteString(strings.TrimSpace(sel.Title))
	b.WriteString("*")
	if d := strings.TrimSpace(sel.Description); d != "" {
		b.WriteString("\n")
		b.WriteString(d)
	}
	b.WriteString("\n\nReply with a message if you would like to order.")
	return b.String()
}

func productRowDescription(p domain.Product) string {
	price := strings.TrimSpace(strings.TrimSpace(p.Currency) + " " + strings.TrimSpace(p.Price))
	desc := strings.TrimSpace(p.Description)
	switch {
	case price == "":
		return desc
	case desc == "":
		return price
	default:
		return price + " | " + desc
	}
}

// productListMessage renders one catalogue page with navigation rows.
func productListMessage(c Context, items []domain.Product) whatsapp.Message {
	p := c.Pagination
	body := "We don't have any products listed yet."
	if p.TotalPages > 0 {
		body = fmt.Sprintf("Here is what we have on offer (page %d of %d). Select a product for details.", p.CurrentPage, p.TotalPages)
	}

	// leave room for the three navigation rows
	maxItems := whatsapp.MaxListRows - 3
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	rows := make([]whatsapp.Row, 0, len(items))
	for _, item := range items {
		rows = append(rows, whatsapp.Row{
			ID:          productPrefix + item.ID,
			Title:       item.Name,
			Description: productRowDescription(item),
		})
	}

	var nav []whatsapp.Row
	if p.Skip > 0 {
		nav = append(nav, whatsapp.Row{ID: RowPrevious, Title: "Previous page"})
	}
	if p.Skip+p.Take < p.Total {
		nav = append(nav, whatsapp.Row{ID: RowNext, Title: "Next page"})
	}
	nav = append(nav, whatsapp.Row{ID: RowExit, Title: "Back to main menu"})

	sections := []whatsapp.Section{}
	if len(rows) > 0 {
		sections = append(sections, whatsapp.Section{Title: "Products", Rows: rows})
	}
	sections = append(sections, whatsapp.Section{Title: "Navigate", Rows: nav})

	return whatsapp.NewListMessage(c.Contact.WaID, whatsapp.ListMessage{
		Header:   "Products",
		Body:     body,
		Button:   "View products",
		Sections: sections,
	})
}
