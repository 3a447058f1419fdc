package state

import (
	"fmt"
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"swingshort/internal/models"
)

// Store owns the single writer connection to the relational state database.
type Store struct {
	db *gorm.DB
}

// Open connects to MySQL at dsn and runs every outstanding migration.
// dsn format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("state: connect: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// logNonFatal records a persistence failure without propagating it: every
// non-critical save in the tick loop must never abort the tick on a
// transient database error.
func logNonFatal(op string, err error) {
	if err != nil {
		log.Printf("state: %s failed (non-fatal): %v", op, err)
	}
}

// --- Open positions -------------------------------------------------------

// SavePosition upserts one open position row.
func (s *Store) SavePosition(p models.Position) {
	row := OpenPosition{
		Symbol:            p.Symbol,
		OptionType:        string(p.OptionType),
		Strike:            p.Strike,
		EntryPrice:        p.EntryPrice,
		SLPrice:           p.SLPrice,
		Quantity:          p.Quantity,
		RActual:           p.RActual,
		EntryTime:         p.EntryTime,
		CurrentPrice:      p.CurrentPrice,
		UnrealizedPL:      p.UnrealizedPL,
		UnrealizedR:       p.UnrealizedR,
		CandidateSwingLow: p.CandidateSwingLow,
		CandidateVWAP:     p.CandidateVWAP,
	}
	err := s.db.Save(&row).Error
	logNonFatal("save open position "+p.Symbol, err)
}

// SavePositions upserts every open position, after every tick.
func (s *Store) SavePositions(positions []models.Position) {
	for _, p := range positions {
		s.SavePosition(p)
	}
}

// RemoveOpenPosition deletes a symbol's row once it closes.
func (s *Store) RemoveOpenPosition(symbol string) {
	err := s.db.Where("symbol = ?", symbol).Delete(&OpenPosition{}).Error
	logNonFatal("remove open position "+symbol, err)
}

// LoadOpenPositions restores the open-position set on startup.
func (s *Store) LoadOpenPositions() ([]models.Position, error) {
	var rows []OpenPosition
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("state: load open positions: %w", err)
	}
	out := make([]models.Position, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Position{
			Symbol:            r.Symbol,
			OptionType:        models.OptionType(r.OptionType),
			Strike:            r.Strike,
			EntryPrice:        r.EntryPrice,
			SLPrice:           r.SLPrice,
			Quantity:          r.Quantity,
			RActual:           r.RActual,
			EntryTime:         r.EntryTime,
			CurrentPrice:      r.CurrentPrice,
			UnrealizedPL:      r.UnrealizedPL,
			UnrealizedR:       r.UnrealizedR,
			CandidateSwingLow: r.CandidateSwingLow,
			CandidateVWAP:     r.CandidateVWAP,
		})
	}
	return out, nil
}

// --- Closed trades ---------------------------------------------------------

// AppendClosedTrade writes the append-only closed-trade log entry.
func (s *Store) AppendClosedTrade(p models.Position) {
	row := ClosedTrade{
		Symbol:     p.Symbol,
		OptionType: string(p.OptionType),
		Strike:     p.Strike,
		EntryPrice: p.EntryPrice,
		SLPrice:    p.SLPrice,
		Quantity:   p.Quantity,
		EntryTime:  p.EntryTime,
		ExitPrice:  p.ExitPrice,
		ExitTime:   p.ExitTime,
		ExitReason: p.ExitReason,
		RealizedPL: p.RealizedPL,
		RealizedR:  p.RealizedR,
	}
	err := s.db.Create(&row).Error
	logNonFatal("append closed trade "+p.Symbol, err)
}

// --- Pending entry orders ----------------------------------------------------

// SavePendingEntryOrders replaces the pending-entry snapshot for both
// option types.
func (s *Store) SavePendingEntryOrders(orders map[models.OptionType]models.Order) {
	for optType, o := range orders {
		row := PendingEntryOrder{
			OptionType: string(optType),
			BrokerID:   o.BrokerID,
			Symbol:     o.Symbol,
			Trigger:    o.Trigger,
			Limit:      o.Limit,
			Quantity:   o.Quantity,
			State:      string(o.State),
			PlacedAt:   o.PlacedAt,
		}
		err := s.db.Save(&row).Error
		logNonFatal("save pending entry order "+string(optType), err)
	}
}

// ClearPendingEntryOrder removes the tracked order for an option type once
// it is placed, filled, or cancelled with nothing to replace it.
func (s *Store) ClearPendingEntryOrder(optType models.OptionType) {
	err := s.db.Where("option_type = ?", string(optType)).Delete(&PendingEntryOrder{}).Error
	logNonFatal("clear pending entry order "+string(optType), err)
}

// LoadPendingEntryOrders restores resting entry orders on startup.
func (s *Store) LoadPendingEntryOrders() (map[models.OptionType]models.Order, error) {
	var rows []PendingEntryOrder
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("state: load pending entry orders: %w", err)
	}
	out := make(map[models.OptionType]models.Order, len(rows))
	for _, r := range rows {
		out[models.OptionType(r.OptionType)] = models.Order{
			BrokerID:   r.BrokerID,
			Kind:       models.OrderKindEntry,
			Symbol:     r.Symbol,
			OptionType: models.OptionType(r.OptionType),
			Trigger:    r.Trigger,
			Limit:      r.Limit,
			Quantity:   r.Quantity,
			State:      models.OrderState(r.State),
			PlacedAt:   r.PlacedAt,
		}
	}
	return out, nil
}

// --- Active SL orders --------------------------------------------------------

// SaveActiveSLOrders replaces the active-SL snapshot.
func (s *Store) SaveActiveSLOrders(orders map[string]models.Order) {
	for symbol, o := range orders {
		row := ActiveSLOrder{
			Symbol:   symbol,
			BrokerID: o.BrokerID,
			Trigger:  o.Trigger,
			Limit:    o.Limit,
			Quantity: o.Quantity,
			State:    string(o.State),
			PlacedAt: o.PlacedAt,
		}
		err := s.db.Save(&row).Error
		logNonFatal("save active SL order "+symbol, err)
	}
}

// ClearActiveSLOrder removes a symbol's SL row once the position closes.
func (s *Store) ClearActiveSLOrder(symbol string) {
	err := s.db.Where("symbol = ?", symbol).Delete(&ActiveSLOrder{}).Error
	logNonFatal("clear active SL order "+symbol, err)
}

// LoadActiveSLOrders restores resting SL orders on startup.
func (s *Store) LoadActiveSLOrders() (map[string]models.Order, error) {
	var rows []ActiveSLOrder
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("state: load active SL orders: %w", err)
	}
	out := make(map[string]models.Order, len(rows))
	for _, r := range rows {
		out[r.Symbol] = models.Order{
			BrokerID: r.BrokerID,
			Kind:     models.OrderKindExitSL,
			Symbol:   r.Symbol,
			Trigger:  r.Trigger,
			Limit:    r.Limit,
			Quantity: r.Quantity,
			State:    models.OrderState(r.State),
			PlacedAt: r.PlacedAt,
		}
	}
	return out, nil
}

// --- Daily state -------------------------------------------------------------

// SaveSession upserts the singleton daily_state row from a SessionState.
func (s *Store) SaveSession(sess models.SessionState) {
	row := DailyState{
		TradeDate:          sess.TradeDate,
		CumulativeR:        sess.CumulativeR,
		DailyExitTriggered: sess.DailyExitTriggered,
		DailyExitReason:    sess.DailyExitReason,
	}
	err := s.db.Save(&row).Error
	logNonFatal("save daily state", err)

	opState := OperationalState{
		ID:             1,
		State:          string(sess.Operational),
		StateEnteredAt: sess.StateEnteredAt,
		ErrorReason:    sess.ErrorReason,
		PauseRequested: sess.PauseRequested,
		KillRequested:  sess.KillRequested,
	}
	err = s.db.Save(&opState).Error
	logNonFatal("save operational state", err)
}

// LoadSession restores today's dashboard row, if any. A nil, nil return
// means no row exists yet for today (fresh trade date).
func (s *Store) LoadSession(tradeDate string) (*models.SessionState, error) {
	var row DailyState
	err := s.db.Where("trade_date = ?", tradeDate).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load daily state: %w", err)
	}

	var opRow OperationalState
	if err := s.db.First(&opRow, 1).Error; err != nil && err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("state: load operational state: %w", err)
	}

	sess := models.SessionState{
		TradeDate:          row.TradeDate,
		CumulativeR:        row.CumulativeR,
		DailyExitTriggered: row.DailyExitTriggered,
		DailyExitReason:    row.DailyExitReason,
		Operational:        models.OperationalState(opRow.State),
		ErrorReason:        opRow.ErrorReason,
		PauseRequested:     opRow.PauseRequested,
		KillRequested:      opRow.KillRequested,
		StateEnteredAt:     opRow.StateEnteredAt,
	}
	return &sess, nil
}

// --- Observability logs (incremental, best-effort) --------------------------

// AppendSwing writes one confirmed swing to the append-only log.
func (s *Store) AppendSwing(sw models.Swing) {
	row := SwingLogEntry{
		Symbol:    sw.Symbol,
		Type:      string(sw.Type),
		Price:     sw.Price,
		VWAP:      sw.VWAP,
		BarIndex:  sw.BarIndex,
		SwingTime: sw.Time,
	}
	err := s.db.Create(&row).Error
	logNonFatal("append swing log "+sw.Symbol, err)
}

// SaveCandidates replaces the candidate-pool snapshot.
func (s *Store) SaveCandidates(candidates map[string]models.Candidate) {
	for _, c := range candidates {
		row := SwingCandidate{
			Symbol:           c.Symbol,
			OptionType:       string(c.OptionType),
			Strike:           c.Strike,
			SwingLow:         c.SwingLow,
			SwingTime:        c.SwingTime,
			VWAPAtSwing:      c.VWAPAtSwing,
			HighestHigh:      c.HighestHigh,
			CurrentPrice:     c.CurrentPrice,
			EntryPrice:       c.EntryPrice,
			StopLossPrice:    c.StopLossPrice,
			SLPoints:         c.SLPoints,
			SLPercent:        c.SLPercent,
			VWAPPremium:      c.VWAPPremium,
			Lots:             c.Lots,
			RActual:          c.RActual,
			Qualified:        c.Qualified,
			DisqualifyReason: c.DisqualifyReason,
		}
		err := s.db.Save(&row).Error
		logNonFatal("save candidate "+c.Symbol, err)
	}
}

// SaveLatestBar upserts the most recent bar for a symbol.
func (s *Store) SaveLatestBar(b models.Bar) {
	row := LatestBar{
		Symbol:  b.Symbol,
		BarTime: b.Time,
		Open:    b.Open,
		High:    b.High,
		Low:     b.Low,
		Close:   b.Close,
		Volume:  b.Volume,
		VWAP:    b.VWAP,
		Sealed:  b.Sealed,
	}
	err := s.db.Save(&row).Error
	logNonFatal("save latest bar "+b.Symbol, err)
}

// SaveBestStrike upserts the current winning candidate for an option type.
func (s *Store) SaveBestStrike(optType models.OptionType, c *models.Candidate) {
	if c == nil {
		err := s.db.Where("option_type = ?", string(optType)).Delete(&BestStrike{}).Error
		logNonFatal("clear best strike "+string(optType), err)
		return
	}
	row := BestStrike{
		OptionType: string(optType),
		Symbol:     c.Symbol,
		EntryPrice: c.EntryPrice,
		SLPoints:   c.SLPoints,
	}
	err := s.db.Save(&row).Error
	logNonFatal("save best strike "+string(optType), err)
}

// AppendOrderTrigger writes one trigger-classification decision.
func (s *Store) AppendOrderTrigger(symbol string, trigger models.OrderTrigger) {
	row := OrderTriggerLogEntry{Symbol: symbol, Trigger: string(trigger)}
	err := s.db.Create(&row).Error
	logNonFatal("append order trigger "+symbol, err)
}
