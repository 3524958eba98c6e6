// Package model defines domain structs shared across the persistence layer.
package model

import "time"

// RouterStatus is the liveness state of an edge router.
type RouterStatus string

const (
	RouterOnline  RouterStatus = "ONLINE"
	RouterOffline RouterStatus = "OFFLINE"
	RouterError   RouterStatus = "ERROR"
)

// Router is a captive-portal WiFi access point managed by the control plane.
type Router struct {
	ID           string       `json:"id"`
	Token        string       `json:"-"`
	RadiusSecret string       `json:"-"`
	UAMSecret    string       `json:"-"`
	MACAddress   string       `json:"mac_address"`
	NASIPAddress string       `json:"nas_ip_address"`
	Name         string       `json:"name"`
	HostID       string       `json:"host_id"`
	Status       RouterStatus `json:"status"`
	LastSeen     time.Time    `json:"last_seen"`
}

// UserStatus is the service state of an end-user account.
type UserStatus string

const (
	UserActive    UserStatus = "ACTIVE"
	UserInactive  UserStatus = "INACTIVE"
	UserSuspended UserStatus = "SUSPENDED"
	UserExpired   UserStatus = "EXPIRED"
)

// User is an end-user authenticated through the captive portal.
type User struct {
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Status       UserStatus `json:"status"`
}

// QuotaType is the accounting period of a plan's data quota.
type QuotaType string

const (
	QuotaMonthly QuotaType = "MONTHLY"
	QuotaDaily   QuotaType = "DAILY"
	QuotaWeekly  QuotaType = "WEEKLY"
	QuotaOneTime QuotaType = "ONE_TIME"
)

// Plan is a catalog entry describing service limits.
// DataQuota of nil means unlimited.
type Plan struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	DataQuota      *int64    `json:"data_quota"`
	QuotaType      QuotaType `json:"quota_type"`
	UploadBps      int64     `json:"upload_bps"`
	DownloadBps    int64     `json:"download_bps"`
	SessionTimeout int       `json:"session_timeout"`
	IdleTimeout    int       `json:"idle_timeout"`
	MaxSessions    int       `json:"max_sessions"`
	ValidityDays   int       `json:"validity_days"`
	Status         string    `json:"status"`
}

// UserPlanStatus is the lifecycle state of a plan assignment.
type UserPlanStatus string

const (
	UserPlanPending   UserPlanStatus = "PENDING"
	UserPlanActive    UserPlanStatus = "ACTIVE"
	UserPlanExpired   UserPlanStatus = "EXPIRED"
	UserPlanCancelled UserPlanStatus = "CANCELLED"
)

// UserPlan binds a user to a plan. DataQuota is snapshotted at assignment and
// may override the plan default.
type UserPlan struct {
	ID          string         `json:"id"`
	Username    string         `json:"username"`
	PlanID      string         `json:"plan_id"`
	QuotaType   QuotaType      `json:"quota_type"`
	AssignedAt  time.Time      `json:"assigned_at"`
	ActivatedAt *time.Time     `json:"activated_at"`
	ExpiresAt   *time.Time     `json:"expires_at"`
	DataUsed    int64          `json:"data_used"`
	DataQuota   *int64         `json:"data_quota"`
	Status      UserPlanStatus `json:"status"`
}

// Session is one RADIUS accounting record. AcctStopTime of nil means the
// session is still active. Byte counters are monotonically non-decreasing.
type Session struct {
	AcctUniqueID       string     `json:"acct_unique_id"`
	AcctSessionID      string     `json:"acct_session_id"`
	Username           string     `json:"username"`
	RouterID           *string    `json:"router_id"`
	NASIPAddress       string     `json:"nas_ip_address"`
	CallingStationID   string     `json:"calling_station_id"`
	FramedIPAddress    string     `json:"framed_ip_address"`
	AcctStartTime      time.Time  `json:"acct_start_time"`
	AcctUpdateTime     *time.Time `json:"acct_update_time"`
	AcctStopTime       *time.Time `json:"acct_stop_time"`
	AcctInputOctets    int64      `json:"acct_input_octets"`
	AcctOutputOctets   int64      `json:"acct_output_octets"`
	AcctTerminateCause string     `json:"acct_terminate_cause"`
}

// Bytes returns the total traffic of the session.
func (s Session) Bytes() int64 { return s.AcctInputOctets + s.AcctOutputOctets }

// UsageCounter is the per-user, per-period materialized aggregate over closed
// sessions, maintained by database triggers.
type UsageCounter struct {
	Username   string    `json:"username"`
	PeriodKey  string    `json:"period_key"`
	TotalBytes int64     `json:"total_bytes"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RouterDailyUsage is the per-router, per-day traffic aggregate.
type RouterDailyUsage struct {
	RouterID   string    `json:"router_id"`
	UsageDate  time.Time `json:"usage_date"`
	TotalBytes int64     `json:"total_bytes"`
}

// DisconnectReason says why a user is being removed from service.
type DisconnectReason string

const (
	ReasonQuotaExceeded DisconnectReason = "QUOTA_EXCEEDED"
	ReasonPlanExpired   DisconnectReason = "PLAN_EXPIRED"
	ReasonAdminRequest  DisconnectReason = "ADMIN_REQUEST"
)

// DisconnectJob is one row of the durable disconnect work queue.
type DisconnectJob struct {
	ID          int64            `json:"id"`
	Username    string           `json:"username"`
	Reason      DisconnectReason `json:"reason"`
	CreatedAt   time.Time        `json:"created_at"`
	Processed   bool             `json:"processed"`
	ProcessedAt *time.Time       `json:"processed_at"`
}

// RadiusAttribute is one row of the FreeRADIUS check or reply tables.
type RadiusAttribute struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Attribute string `json:"attribute"`
	Op        string `json:"op"`
	Value     string `json:"value"`
}
