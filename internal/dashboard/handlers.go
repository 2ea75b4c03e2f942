package dashboard

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/dqmonitor/internal/analysis"
	"github.com/KaramelBytes/dqmonitor/internal/metrics"
	"github.com/KaramelBytes/dqmonitor/internal/predictor"
	"github.com/KaramelBytes/dqmonitor/internal/utils"
	"github.com/google/uuid"
)

// formValues mirrors the form inputs as strings so a rejected submission can
// be re-rendered with what the user typed.
type formValues struct {
	OrderID         string
	CustomerID      string
	Currency        string
	OrderDate       string
	Status          string
	CountryCode     string
	PaymentMethod   string
	FraudFlag       string
	DeliveryDays    string
	CustomerAge     string
	ProductCategory string
}

func formFromRequest(r predictor.Request) formValues {
	return formValues{
		OrderID:         strconv.Itoa(r.OrderID),
		CustomerID:      strconv.Itoa(r.CustomerID),
		Currency:        r.Currency,
		OrderDate:       r.OrderDate.Format("2006-01-02"),
		Status:          r.Status,
		CountryCode:     r.CountryCode,
		PaymentMethod:   r.PaymentMethod,
		FraudFlag:       r.FraudFlag,
		DeliveryDays:    strconv.Itoa(r.DeliveryDays),
		CustomerAge:     strconv.Itoa(r.CustomerAge),
		ProductCategory: r.ProductCategory,
	}
}

type choices struct {
	Currencies, Statuses, PaymentMethods, FraudFlags, ProductCategories []string
}

type bounds struct {
	OrderID, CustomerID, DeliveryDays, CustomerAge, MaxCustomerAge int
}

type predictPage struct {
	Tab          string
	Form         formValues
	Choices      choices
	Min          bounds
	Verdict      string
	Error        string
	SubmissionID string
}

func (s *Server) newPredictPage(f formValues) predictPage {
	return predictPage{
		Tab:  "predict",
		Form: f,
		Choices: choices{
			Currencies:        predictor.Currencies,
			Statuses:          predictor.Statuses,
			PaymentMethods:    predictor.PaymentMethods,
			FraudFlags:        predictor.FraudFlags,
			ProductCategories: predictor.ProductCategories,
		},
		Min: bounds{
			OrderID:        predictor.MinOrderID,
			CustomerID:     predictor.MinCustomerID,
			DeliveryDays:   predictor.MinDeliveryDays,
			CustomerAge:    predictor.MinCustomerAge,
			MaxCustomerAge: predictor.MaxCustomerAge,
		},
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "predict", s.newPredictPage(formFromRequest(predictor.DefaultRequest(s.opts.Now()))))
}

// handlePredict forwards one form submission to the predictor. Failures are
// shown inline and the page stays usable, so the status is always 200.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	logger := s.logger.With().Str("submission_id", id).Logger()
	if err := r.ParseForm(); err != nil {
		page := s.newPredictPage(formFromRequest(predictor.DefaultRequest(s.opts.Now())))
		page.SubmissionID = id
		page.Error = fmt.Sprintf("read form: %v", err)
		s.render(w, http.StatusOK, "predict", page)
		return
	}
	f := formValues{
		OrderID:         r.PostForm.Get("order_id"),
		CustomerID:      r.PostForm.Get("customer_id"),
		Currency:        r.PostForm.Get("currency"),
		OrderDate:       r.PostForm.Get("order_date"),
		Status:          r.PostForm.Get("status"),
		CountryCode:     r.PostForm.Get("country_code"),
		PaymentMethod:   r.PostForm.Get("payment_method"),
		FraudFlag:       r.PostForm.Get("fraud_flag"),
		DeliveryDays:    r.PostForm.Get("delivery_days"),
		CustomerAge:     r.PostForm.Get("customer_age"),
		ProductCategory: r.PostForm.Get("product_category"),
	}
	page := s.newPredictPage(f)
	page.SubmissionID = id

	req, err := parseForm(f)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		logger.Info().Err(err).Msg("submission rejected")
		metrics.ObservePrediction(0, metrics.OutcomeRejected)
		page.Error = flatten(err)
		s.render(w, http.StatusOK, "predict", page)
		return
	}

	start := time.Now()
	verdict, err := s.predictor.Predict(r.Context(), req)
	elapsed := time.Since(start)
	if err != nil {
		logger.Warn().Err(err).Dur("elapsed", elapsed).Msg("prediction failed")
		metrics.ObservePrediction(elapsed, metrics.OutcomeError)
		page.Error = flatten(err)
		s.render(w, http.StatusOK, "predict", page)
		return
	}
	logger.Info().Str("verdict", verdict).Dur("elapsed", elapsed).Msg("prediction served")
	metrics.ObservePrediction(elapsed, metrics.OutcomeSuccess)
	page.Verdict = verdict
	s.render(w, http.StatusOK, "predict", page)
}

// parseForm converts the raw form strings; enum and range checks are left
// to Request.Validate.
func parseForm(f formValues) (predictor.Request, error) {
	var errs []error
	atoi := func(field, v string) int {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, &predictor.FieldError{Field: field, Reason: fmt.Sprintf("%q is not a whole number", v)})
		}
		return n
	}
	req := predictor.Request{
		OrderID:         atoi("order_id", f.OrderID),
		CustomerID:      atoi("customer_id", f.CustomerID),
		Currency:        f.Currency,
		Status:          f.Status,
		CountryCode:     strings.TrimSpace(f.CountryCode),
		PaymentMethod:   f.PaymentMethod,
		FraudFlag:       f.FraudFlag,
		DeliveryDays:    atoi("delivery_days", f.DeliveryDays),
		CustomerAge:     atoi("customer_age", f.CustomerAge),
		ProductCategory: f.ProductCategory,
	}
	d, err := time.Parse("2006-01-02", strings.TrimSpace(f.OrderDate))
	if err != nil {
		errs = append(errs, &predictor.FieldError{Field: "order_date", Reason: fmt.Sprintf("%q is not a YYYY-MM-DD date", f.OrderDate)})
	}
	req.OrderDate = d
	return req, errors.Join(errs...)
}

// flatten puts joined errors on one line.
func flatten(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}

type boxTrace struct {
	Y         []float64 `json:"y"`
	Type      string    `json:"type"`
	BoxPoints string    `json:"boxpoints"`
	Name      string    `json:"name"`
}

type plotFigure struct {
	Data   []boxTrace     `json:"data"`
	Layout map[string]any `json:"layout"`
}

func newBoxPlot(amounts []float64) *plotFigure {
	return &plotFigure{
		Data: []boxTrace{{Y: amounts, Type: "box", BoxPoints: "outliers", Name: "Order Amount"}},
		Layout: map[string]any{
			"title":  map[string]any{"text": "Order Amount Distribution"},
			"yaxis":  map[string]any{"title": map[string]any{"text": "Order Amount"}},
			"height": 500,
		},
	}
}

type dashboardPage struct {
	Tab     string
	Path    string
	Error   string
	Checked []string
	Summary *analysis.Summary
	Rows    []analysis.Row
	Hidden  int
	BoxPlot *plotFigure
}

// handleDashboard locates, loads and cleans the order file on every request.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	page := dashboardPage{Tab: "dashboard"}

	path, err := utils.FindDataFile(s.opts.DataFile, s.dataCandidates())
	if err != nil {
		var nf *utils.NotFoundError
		if errors.As(err, &nf) {
			page.Error = fmt.Sprintf("%s not found in expected locations.", nf.Name)
			page.Checked = nf.Checked
		} else {
			page.Error = err.Error()
		}
		s.logger.Warn().Err(err).Msg("order file missing")
		metrics.ObserveDashboardLoad(time.Since(start), metrics.OutcomeNotFound, 0, 0)
		s.render(w, http.StatusNotFound, "dashboard", page)
		return
	}
	page.Path = path

	res, err := analysis.LoadAndClean(path, s.opts.Analysis)
	if err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("order file could not be cleaned")
		metrics.ObserveDashboardLoad(time.Since(start), metrics.OutcomeError, 0, 0)
		page.Error = err.Error()
		s.render(w, http.StatusInternalServerError, "dashboard", page)
		return
	}
	sum := analysis.Summarize(res)
	page.Summary = &sum
	page.Rows = sum.AnomalyRows
	if len(page.Rows) > s.opts.MaxAnomalyRows {
		page.Hidden = len(page.Rows) - s.opts.MaxAnomalyRows
		page.Rows = page.Rows[:s.opts.MaxAnomalyRows]
	}
	if sum.Amounts != nil {
		page.BoxPlot = newBoxPlot(sum.Amounts)
	}
	s.logger.Debug().
		Str("path", path).
		Int("records", sum.Total).
		Int("anomalies", sum.Anomalies).
		Msg("dashboard rendered")
	metrics.ObserveDashboardLoad(time.Since(start), metrics.OutcomeSuccess, sum.Total, sum.Anomalies)
	s.render(w, http.StatusOK, "dashboard", page)
}
