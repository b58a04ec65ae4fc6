package transaction

import (
	"github.com/savethedate/payments/internal/transaction/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("transaction.repository",
	fx.Provide(repository.Provide),
)
