package services

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CronService manages scheduled background jobs
type CronService struct {
	cron          *cron.Cron
	expirationSvc *BookingExpirationService
	logger        *logrus.Logger
}

// NewCronService creates a new CronService
func NewCronService(expirationSvc *BookingExpirationService, logger *logrus.Logger) *CronService {
	// Seconds precision so the expiry sweep can run sub-minute in staging
	c := cron.New(cron.WithSeconds())

	return &CronService{
		cron:          c,
		expirationSvc: expirationSvc,
		logger:        logger,
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service")

	// Reap awaiting_payment bookings past their payment window every minute.
	// Cron format: second minute hour day month weekday
	_, err := s.cron.AddFunc("0 * * * * *", s.expireBookingsJob)
	if err != nil {
		return fmt.Errorf("failed to schedule booking expiration job: %w", err)
	}
	s.logger.Info("Scheduled: expire unpaid bookings (every minute)")

	s.cron.Start()
	return nil
}

// Stop stops all cron jobs and waits for running jobs to finish
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

func (s *CronService) expireBookingsJob() {
	startTime := time.Now()

	cancelled := s.expirationSvc.ProcessExpiredBookings()
	if cancelled > 0 {
		s.logger.WithFields(logrus.Fields{
			"cancelled": cancelled,
			"duration":  time.Since(startTime).String(),
		}).Info("Booking expiration sweep finished")
	}
}

// RunExpireBookingsNow runs the expiration sweep immediately (for testing)
func (s *CronService) RunExpireBookingsNow() int {
	return s.expirationSvc.ProcessExpiredBookings()
}
