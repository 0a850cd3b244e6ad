package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "judge_active_rooms",
		Help: "Rooms currently supervised",
	})

	metricRoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "judge_room_participants",
		Help: "Human participants seen by the liveness monitor",
	}, []string{"room"})

	metricSpawnFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "judge_spawn_failures_total",
		Help: "Room spawns that failed",
	}, []string{"reason"})

	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "judge_turn_requests_total",
		Help: "Turn control requests by method and result",
	}, []string{"method", "result"})

	metricIdleEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "judge_idle_evictions_total",
		Help: "Rooms removed after staying empty past the idle limit",
	})
)
