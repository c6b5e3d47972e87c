package server

import (
	"encoding/csv"
	"net/http"
	"strconv"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/storage"
)

const (
	exportTimeLayout = "2006-01-02 15:04"
	exportSheet      = "Orders"
)

var exportHeader = []string{
	"Order ID",
	"Tracking Number",
	"Customer Name",
	"Customer Email",
	"Customer Phone",
	"Pickup Address",
	"Delivery Address",
	"Service Type",
	"Weight",
	"Quantity",
	"Status",
	"Price",
	"Created At",
	"Estimated Delivery",
	"Actual Delivery",
}

func exportRow(o storage.Order) []string {
	actual := ""
	if o.ActualDelivery != nil {
		actual = o.ActualDelivery.Format(exportTimeLayout)
	}
	return []string{
		o.ID,
		o.TrackingNumber,
		o.CustomerName,
		o.CustomerEmail,
		o.CustomerPhone,
		o.PickupAddress,
		o.DeliveryAddress,
		o.ServiceType,
		strconv.FormatFloat(o.PackageDetails.Weight, 'f', -1, 64),
		strconv.Itoa(o.PackageDetails.Quantity),
		o.Status,
		strconv.FormatInt(o.Price, 10),
		o.CreatedAt.Format(exportTimeLayout),
		o.EstimatedDelivery.Format(exportTimeLayout),
		actual,
	}
}

func attachment(w http.ResponseWriter, contentType, name string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
}

func (s *Server) exportOrders(w http.ResponseWriter, r *http.Request, handler string) ([]storage.Order, *zap.Logger, bool) {
	l := s.logger.With(zap.String("handler", handler))

	f, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return nil, l, false
	}
	orders, err := s.orders.ExportRows(r.Context(), f)
	if err != nil {
		s.respondServiceError(w, l, handler, err)
		return nil, l, false
	}
	return orders, l, true
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	orders, l, ok := s.exportOrders(w, r, "export_csv")
	if !ok {
		return
	}

	attachment(w, "text/csv; charset=utf-8", "orders.csv")
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		l.Error("Failed to write CSV header", zap.Error(err))
		return
	}
	for _, o := range orders {
		if err := cw.Write(exportRow(o)); err != nil {
			l.Error("Failed to write CSV row", zap.String("order_id", o.ID), zap.Error(err))
			return
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		l.Error("Failed to flush CSV", zap.Error(err))
	}
}

func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	orders, l, ok := s.exportOrders(w, r, "export_xlsx")
	if !ok {
		return
	}

	f, err := buildWorkbook(orders)
	if err != nil {
		s.respondServiceError(w, l, "export_xlsx", err)
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			l.Warn("Failed to close workbook", zap.Error(err))
		}
	}()

	attachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "orders.xlsx")
	w.WriteHeader(http.StatusOK)
	if err := f.Write(w); err != nil {
		l.Error("Failed to write workbook", zap.Error(err))
	}
}

// buildWorkbook lays the export out on a single "Orders" sheet with a bold
// header row.
func buildWorkbook(orders []storage.Order) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		f.Close()
		return nil, err
	}

	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		f.Close()
		return nil, err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}
	last, err := excelize.CoordinatesToCellName(len(exportHeader), 1)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SetCellStyle(exportSheet, "A1", last, style); err != nil {
		f.Close()
		return nil, err
	}

	for i, o := range orders {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, err
		}
		row := exportCells(o)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// exportCells keeps weight, quantity and price numeric in the workbook.
func exportCells(o storage.Order) []interface{} {
	text := exportRow(o)
	cells := make([]interface{}, len(text))
	for i, v := range text {
		cells[i] = v
	}
	cells[8] = o.PackageDetails.Weight
	cells[9] = o.PackageDetails.Quantity
	cells[11] = o.Price
	return cells
}
