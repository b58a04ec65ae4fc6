package pdf

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

var ErrInvalidReceipt = errors.New("invalid_receipt")

// ReceiptData is the pre-formatted content of a contribution receipt.
type ReceiptData struct {
	Reference        string
	EventName        string
	GiftItemName     string
	ContributorEmail string
	Amount           string
	Currency         string
	DatePaid         string
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, receipt ReceiptData) (io.Reader, error) {
	if receipt.Reference == "" || receipt.Amount == "" {
		return nil, ErrInvalidReceipt
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(30,
		text.NewCol(8, "Contribution receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "SaveTheDate", props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Reference: "+receipt.Reference, props.Text{Top: 0}),
			text.New("Date paid: "+receipt.DatePaid, props.Text{Top: 4}),
		),
		col.New(6).Add(
			text.New("From", props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(receipt.ContributorEmail, props.Text{Top: 5, Align: align.Right}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, receipt.Currency+" "+receipt.Amount+" paid on "+receipt.DatePaid, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(6, "Event", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Gift", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(15,
		text.NewCol(6, receipt.EventName, props.Text{Size: 9}),
		text.NewCol(4, receipt.GiftItemName, props.Text{Size: 9}),
		text.NewCol(2, receipt.Amount, props.Text{Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}
