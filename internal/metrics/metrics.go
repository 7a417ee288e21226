// Package metrics exposes the prometheus collectors for the attendance engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MarksTotal counts successful attendance mutations by status and origin.
	MarksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presenca_marks_total",
		Help: "Successful attendance mutations.",
	}, []string{"status", "origin"})

	// SessionsClosedTotal counts session closes by trigger.
	SessionsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presenca_sessions_closed_total",
		Help: "Class sessions transitioned to closed.",
	}, []string{"reason"})

	// RecognitionsTotal counts facial recognition outcomes seen by the engine.
	RecognitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presenca_recognitions_total",
		Help: "Facial capture outcomes.",
	}, []string{"outcome"})

	// PreAttendanceBuffered counts captures buffered while no session was open.
	PreAttendanceBuffered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presenca_pre_attendance_buffered_total",
		Help: "Facial captures buffered for rooms without an open session.",
	})
)
