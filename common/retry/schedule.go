package retry

import (
	"fmt"
	"time"
)

// Schedule 큐 기반 재시도 스케줄 (시도 간 지연 목록 + 최대 시도 횟수)
type Schedule struct {
	Delays      []time.Duration
	MaxAttempts int
}

// DefaultSchedule 웹훅 처리 기본 스케줄: 30s, 60s, 120s, 300s, 600s / 최대 5회
func DefaultSchedule() Schedule {
	return Schedule{
		Delays: []time.Duration{
			30 * time.Second,
			60 * time.Second,
			120 * time.Second,
			300 * time.Second,
			600 * time.Second,
		},
		MaxAttempts: 5,
	}
}

// Validate 스케줄 유효성 검사
func (s Schedule) Validate() error {
	if s.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be positive: %d", s.MaxAttempts)
	}
	if len(s.Delays) == 0 && s.MaxAttempts > 1 {
		return fmt.Errorf("delays required when max attempts is %d", s.MaxAttempts)
	}
	for i, d := range s.Delays {
		if d < 0 {
			return fmt.Errorf("delay %d is negative: %s", i, d)
		}
	}
	return nil
}

// DelayAfter n번째 시도가 실패한 뒤 다음 시도까지 대기 시간
// 목록보다 시도가 많으면 마지막 지연을 반복한다.
func (s Schedule) DelayAfter(attempt int) time.Duration {
	if len(s.Delays) == 0 || attempt < 1 {
		return 0
	}
	if attempt > len(s.Delays) {
		return s.Delays[len(s.Delays)-1]
	}
	return s.Delays[attempt-1]
}

// Start 첫 번째 시도 상태
func (s Schedule) Start() Attempt {
	return Attempt{Number: 1, schedule: s}
}

// At 특정 시도 번호의 상태 (큐 메시지에서 복원할 때 사용)
func (s Schedule) At(number int) Attempt {
	if number < 1 {
		number = 1
	}
	return Attempt{Number: number, schedule: s}
}

// Attempt 단일 작업의 재시도 상태
//
// 큐 구현과 무관하게 시도 번호, 다음 지연, 소진 여부를 계산한다.
type Attempt struct {
	Number   int
	schedule Schedule
}

// Exhausted 더 이상 재시도할 수 없는지 여부
func (a Attempt) Exhausted() bool {
	return a.Number >= a.schedule.MaxAttempts
}

// Remaining 남은 재시도 횟수
func (a Attempt) Remaining() int {
	if a.Exhausted() {
		return 0
	}
	return a.schedule.MaxAttempts - a.Number
}

// Next 실패 후 다음 시도 상태와 대기 시간. 소진되었으면 ok=false
func (a Attempt) Next() (next Attempt, delay time.Duration, ok bool) {
	if a.Exhausted() {
		return a, 0, false
	}
	return Attempt{Number: a.Number + 1, schedule: a.schedule}, a.schedule.DelayAfter(a.Number), true
}

func (a Attempt) String() string {
	return fmt.Sprintf("%d/%d", a.Number, a.schedule.MaxAttempts)
}
