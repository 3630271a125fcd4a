package chain_test

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/okian/neodrop/internal/domain/chain"
	. "github.com/smartystreets/goconvey/convey"
)

func TestTokenID(t *testing.T) {
	Convey("Decimal NEO ids are token ids", t, func() {
		So(chain.TokenID("3542519").Cmp(big.NewInt(3542519)), ShouldEqual, 0)
	})

	Convey("Other ids hash deterministically", t, func() {
		a := chain.TokenID("2010 PK9")
		So(a.Sign(), ShouldBeGreaterThan, 0)
		So(a.Cmp(chain.TokenID("2010 PK9")), ShouldEqual, 0)
		So(a.Cmp(chain.TokenID("2010 PK8")), ShouldNotEqual, 0)
		So(chain.TokenID("-5").Cmp(big.NewInt(-5)), ShouldNotEqual, 0)
	})
}

func TestError(t *testing.T) {
	Convey("Ledger errors keep their kind through wrapping", t, func() {
		cause := errors.New("nonce too low")
		err := fmt.Errorf("mint: %w", &chain.Error{Kind: chain.KindNonceConflict, Op: "mint", Err: cause})
		So(chain.KindOf(err), ShouldEqual, chain.KindNonceConflict)
		So(errors.Is(err, cause), ShouldBeTrue)
		So(err.Error(), ShouldContainSubstring, "nonce_conflict")
		So(chain.KindOf(cause), ShouldEqual, chain.ErrorKind(0))
	})
}
