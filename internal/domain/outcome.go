package domain

// Outcome classifies how a conversation session ended.
type Outcome string

const (
	OutcomeAppointmentCreated     Outcome = "appointment_created"
	OutcomeAppointmentCancelled   Outcome = "appointment_cancelled"
	OutcomeAppointmentRescheduled Outcome = "appointment_rescheduled"
	OutcomeAppointmentConfirmed   Outcome = "appointment_confirmed"
	OutcomeAppointmentInquiry     Outcome = "appointment_inquiry"
	OutcomeAppointmentModified    Outcome = "appointment_modified"
	OutcomeNoShowFollowup         Outcome = "appointment_noshow_followup"
	OutcomeInfoRequestFulfilled   Outcome = "info_request_fulfilled"
	OutcomePriceInquiry           Outcome = "price_inquiry"
	OutcomeBusinessHoursInquiry   Outcome = "business_hours_inquiry"
	OutcomeLocationInquiry        Outcome = "location_inquiry"
	OutcomeBookingAbandoned       Outcome = "booking_abandoned"
	OutcomeTimeoutAbandoned       Outcome = "timeout_abandoned"
	OutcomeConversationTimeout    Outcome = "conversation_timeout"
	OutcomeSpamDetected           Outcome = "spam_detected"
	OutcomeWrongNumber            Outcome = "wrong_number"
	OutcomeTestMessage            Outcome = "test_message"
)

var KnownOutcomes = []Outcome{
	OutcomeAppointmentCreated,
	OutcomeAppointmentCancelled,
	OutcomeAppointmentRescheduled,
	OutcomeAppointmentConfirmed,
	OutcomeAppointmentInquiry,
	OutcomeAppointmentModified,
	OutcomeNoShowFollowup,
	OutcomeInfoRequestFulfilled,
	OutcomePriceInquiry,
	OutcomeBusinessHoursInquiry,
	OutcomeLocationInquiry,
	OutcomeBookingAbandoned,
	OutcomeTimeoutAbandoned,
	OutcomeConversationTimeout,
	OutcomeSpamDetected,
	OutcomeWrongNumber,
	OutcomeTestMessage,
}

func (o Outcome) Known() bool {
	for _, k := range KnownOutcomes {
		if k == o {
			return true
		}
	}
	return false
}

// IsInformation reports outcomes where the customer only asked for information.
func (o Outcome) IsInformation() bool {
	switch o {
	case OutcomeInfoRequestFulfilled, OutcomePriceInquiry, OutcomeBusinessHoursInquiry,
		OutcomeLocationInquiry, OutcomeAppointmentInquiry:
		return true
	}
	return false
}

// IsBooking reports outcomes that ended with a booking on the calendar.
func (o Outcome) IsBooking() bool {
	switch o {
	case OutcomeAppointmentCreated, OutcomeAppointmentConfirmed, OutcomeAppointmentRescheduled:
		return true
	}
	return false
}

func (o Outcome) IsAbandoned() bool {
	switch o {
	case OutcomeBookingAbandoned, OutcomeTimeoutAbandoned, OutcomeConversationTimeout:
		return true
	}
	return false
}

// Billable reports whether a session with this outcome counts towards the
// conversation-volume tier. Sessions without an outcome are billable.
func (o Outcome) Billable() bool {
	switch o {
	case OutcomeSpamDetected, OutcomeWrongNumber, OutcomeTestMessage:
		return false
	}
	return true
}
