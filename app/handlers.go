package app

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/auth"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/orchestrator"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/settlement"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/sponsorship"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/txstore"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/erc4337/bundler"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/version"
)

// transactionService is satisfied by *orchestrator.Orchestrator.
type transactionService interface {
	Initiate(ctx context.Context, req orchestrator.InitiateRequest) (*model.TransactionRecord, error)
	GetTransaction(ctx context.Context, id string) (*model.TransactionRecord, error)
	Cancel(ctx context.Context, id, reason string) (*model.TransactionRecord, error)
	SignAndSubmit(ctx context.Context, id string, s orchestrator.Signer) (*model.TransactionRecord, error)
	AwaitConfirmation(ctx context.Context, id string) (*model.TransactionRecord, error)
	PrepareRetry(ctx context.Context, id string) (*model.TransactionRecord, error)
}

// settlementService is satisfied by *settlement.Processor.
type settlementService interface {
	Sweep(ctx context.Context) (settlement.SweepResult, error)
	Cleanup(ctx context.Context) (*settlement.CleanupStats, error)
	DailyReport(ctx context.Context, day time.Time) (*settlement.Report, error)
}

// allowanceService is satisfied by *sponsorship.Evaluator.
type allowanceService interface {
	GetAllowance(ctx context.Context, user common.Address, chainID int64) (*sponsorship.GasAllowanceStatus, error)
}

const identityKey = "identity"

type initiateBody struct {
	Sender       string                 `json:"sender"`
	SourceToken  string                 `json:"sourceToken"`
	FiatAmount   decimal.Decimal        `json:"fiatAmount"`
	FiatCurrency string                 `json:"fiatCurrency"`
	Kind         model.DetailKind       `json:"kind"`
	Detail       map[string]interface{} `json:"detail"`
}

type failedResp struct {
	Data    *model.TransactionRecord `json:"data"`
	Message interface{}              `json:"message"`
}

type cancelBody struct {
	Reason string `json:"reason"`
}

type progressResp struct {
	ID         string                 `json:"id"`
	Stage      model.Stage            `json:"stage"`
	Percent    int                    `json:"percent"`
	Settlement model.SettlementStatus `json:"settlementStatus"`
	Log        []model.ProgressEntry  `json:"log"`
	Error      string                 `json:"error,omitempty"`
}

func (s *server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, err := auth.FromAuthHeader(s.jwtSecret, c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}
		c.Set(identityKey, identity)
		return next(c)
	}
}

func (s *server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !identityOf(c).HasRole(auth.AdminRole) {
			return echo.NewHTTPError(http.StatusForbidden, auth.ErrorUnAuthorized.Error())
		}
		return next(c)
	}
}

func identityOf(c echo.Context) *auth.Identity {
	identity, _ := c.Get(identityKey).(*auth.Identity)
	return identity
}

// httpError maps engine errors onto status codes. Unexpected errors are reported to Sentry.
func httpError(c echo.Context, err error) *echo.HTTPError {
	var relayErr *bundler.RelayError
	switch {
	case errors.Is(err, txstore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "transaction not found").SetInternal(err)
	case errors.Is(err, model.ErrTerminal):
		return echo.NewHTTPError(http.StatusConflict, err.Error()).SetInternal(err)
	case model.IsValidationError(err):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error()).SetInternal(err)
	case errors.Is(err, sponsorship.ErrUnsupportedNetwork):
		return echo.NewHTTPError(http.StatusNotFound, err.Error()).SetInternal(err)
	case errors.As(err, &relayErr):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error()).SetInternal(err)
	}

	if hub := sentryecho.GetHubFromContext(c); hub != nil {
		hub.CaptureException(err)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, InternalError).SetInternal(err)
}

// loadOwned returns the record when the caller may act on it. Records of other owners look
// missing.
func (s *server) loadOwned(c echo.Context) (*model.TransactionRecord, error) {
	rec, err := s.tx.GetTransaction(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, httpError(c, err)
	}
	if !identityOf(c).CanAccess(rec.Owner) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "transaction not found")
	}
	return rec, nil
}

func (s *server) getVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, &HttpJsonResp[map[string]string]{
		Data: map[string]string{"version": version.Get(), "revision": version.Commit()},
	})
}

func (s *server) initiateTransaction(c echo.Context) error {
	var body initiateBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}

	req := orchestrator.InitiateRequest{
		Owner:        identityOf(c).Owner,
		SourceToken:  body.SourceToken,
		FiatAmount:   body.FiatAmount,
		FiatCurrency: body.FiatCurrency,
	}
	if body.Sender != "" {
		if !common.IsHexAddress(body.Sender) {
			return echo.NewHTTPError(http.StatusBadRequest, "sender is not an address")
		}
		req.Sender = common.HexToAddress(body.Sender)
	}

	detail, err := model.DecodeDetail(body.Kind, body.Detail)
	if err != nil {
		return httpError(c, err)
	}
	req.Detail = detail

	rec, err := s.tx.Initiate(c.Request().Context(), req)
	if err != nil {
		he := httpError(c, err)
		if rec == nil {
			return he
		}
		// the record exists and is FAILED, return it so the client can show the progress log
		return c.JSON(he.Code, &failedResp{Data: rec, Message: he.Message})
	}
	return c.JSON(http.StatusCreated, &HttpJsonResp[*model.TransactionRecord]{Data: rec})
}

func (s *server) getTransaction(c echo.Context) error {
	rec, err := s.loadOwned(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &HttpJsonResp[*model.TransactionRecord]{Data: rec})
}

func (s *server) getProgress(c echo.Context) error {
	rec, err := s.loadOwned(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &HttpJsonResp[progressResp]{Data: progressResp{
		ID:         rec.ID,
		Stage:      rec.Stage,
		Percent:    rec.Percent(),
		Settlement: rec.Settlement,
		Log:        rec.Progress,
		Error:      rec.Error,
	}})
}

func (s *server) cancelTransaction(c echo.Context) error {
	if _, err := s.loadOwned(c); err != nil {
		return err
	}
	var body cancelBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}

	rec, err := s.tx.Cancel(c.Request().Context(), c.Param("id"), body.Reason)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, &HttpJsonResp[*model.TransactionRecord]{Data: rec})
}

func (s *server) processTransaction(c echo.Context) error {
	rec, err := s.loadOwned(c)
	if err != nil {
		return err
	}
	return s.submit(c, rec)
}

func (s *server) retryTransaction(c echo.Context) error {
	failed, err := s.loadOwned(c)
	if err != nil {
		return err
	}
	if _, ok := s.keys.signerFor(failed.Owner); !ok {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "no server-side signer for owner "+failed.Owner.Hex())
	}

	rec, err := s.tx.PrepareRetry(c.Request().Context(), failed.ID)
	if err != nil {
		return httpError(c, err)
	}
	return s.submit(c, rec)
}

// submit signs and relays rec, then waits for inclusion in the background. The response carries
// the record as of submission.
func (s *server) submit(c echo.Context, rec *model.TransactionRecord) error {
	signer, ok := s.keys.signerFor(rec.Owner)
	if !ok {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "no server-side signer for owner "+rec.Owner.Hex())
	}

	submitted, err := s.tx.SignAndSubmit(c.Request().Context(), rec.ID, signer)
	if err != nil {
		return httpError(c, err)
	}

	id := submitted.ID
	s.background(func(ctx context.Context) {
		if _, err := s.tx.AwaitConfirmation(ctx, id); err != nil {
			s.logger.Warn("transaction not confirmed", "id", id, "error", err)
		}
	})
	return c.JSON(http.StatusAccepted, &HttpJsonResp[*model.TransactionRecord]{Data: submitted})
}

func (s *server) getAllowance(c echo.Context) error {
	chainID := s.chainID
	if raw := c.QueryParam("chainId"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "chainId must be an integer")
		}
		chainID = v
	}

	status, err := s.allowances.GetAllowance(c.Request().Context(), identityOf(c).Owner, chainID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, &HttpJsonResp[*sponsorship.GasAllowanceStatus]{Data: status})
}

func (s *server) getDailyReport(c echo.Context) error {
	day := time.Now().UTC()
	if raw := c.QueryParam("day"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "day must be YYYY-MM-DD")
		}
		day = parsed
	}

	report, err := s.settlements.DailyReport(c.Request().Context(), day)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, &HttpJsonResp[*settlement.Report]{Data: report})
}

func (s *server) sweep(c echo.Context) error {
	result, err := s.settlements.Sweep(c.Request().Context())
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, &HttpJsonResp[settlement.SweepResult]{Data: result})
}

func (s *server) cleanup(c echo.Context) error {
	stats, err := s.settlements.Cleanup(c.Request().Context())
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, &HttpJsonResp[*settlement.CleanupStats]{Data: stats})
}
