package providers

import (
	"github.com/savethedate/payments/internal/providers/email"
	"github.com/savethedate/payments/internal/providers/pdf"
	"github.com/savethedate/payments/internal/providers/storage"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
	storage.Module,
)
