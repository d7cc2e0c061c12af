package protocol

import "fmt"

// IkeErrorCode is the numeric value of an error Notify message, also used
// internally as the cause of a rejected exchange.
type IkeErrorCode uint16

type IkeError struct {
	IkeErrorCode
	Message string
}

func ErrF(e IkeErrorCode, format string, a ...interface{}) IkeError {
	return IkeError{e, fmt.Sprintf(format, a...)}
}

func (e IkeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.IkeErrorCode, e.Message)
	}
	return e.IkeErrorCode.Error()
}

// Cause lets github.com/pkg/errors.Cause unwrap to the sentinel code.
func (e IkeError) Cause() error { return e.IkeErrorCode }

const (
	ERR_UNSUPPORTED_CRITICAL_PAYLOAD IkeErrorCode = 1
	ERR_INVALID_IKE_SPI              IkeErrorCode = 4
	ERR_INVALID_MAJOR_VERSION        IkeErrorCode = 5
	ERR_INVALID_SYNTAX               IkeErrorCode = 7
	ERR_INVALID_MESSAGE_ID           IkeErrorCode = 9
	ERR_INVALID_SPI                  IkeErrorCode = 11
	ERR_NO_PROPOSAL_CHOSEN           IkeErrorCode = 14
	ERR_INVALID_KE_PAYLOAD           IkeErrorCode = 17
	ERR_AUTHENTICATION_FAILED        IkeErrorCode = 24
	ERR_SINGLE_PAIR_REQUIRED         IkeErrorCode = 34
	ERR_NO_ADDITIONAL_SAS            IkeErrorCode = 35
	ERR_INTERNAL_ADDRESS_FAILURE     IkeErrorCode = 36
	ERR_FAILED_CP_REQUIRED           IkeErrorCode = 37
	ERR_TS_UNACCEPTABLE              IkeErrorCode = 38
	ERR_INVALID_SELECTORS            IkeErrorCode = 39
	ERR_TEMPORARY_FAILURE            IkeErrorCode = 43
	ERR_CHILD_SA_NOT_FOUND           IkeErrorCode = 44
)

var errorNames = map[IkeErrorCode]string{
	ERR_UNSUPPORTED_CRITICAL_PAYLOAD: "UNSUPPORTED_CRITICAL_PAYLOAD",
	ERR_INVALID_IKE_SPI:              "INVALID_IKE_SPI",
	ERR_INVALID_MAJOR_VERSION:        "INVALID_MAJOR_VERSION",
	ERR_INVALID_SYNTAX:               "INVALID_SYNTAX",
	ERR_INVALID_MESSAGE_ID:           "INVALID_MESSAGE_ID",
	ERR_INVALID_SPI:                  "INVALID_SPI",
	ERR_NO_PROPOSAL_CHOSEN:           "NO_PROPOSAL_CHOSEN",
	ERR_INVALID_KE_PAYLOAD:           "INVALID_KE_PAYLOAD",
	ERR_AUTHENTICATION_FAILED:        "AUTHENTICATION_FAILED",
	ERR_SINGLE_PAIR_REQUIRED:         "SINGLE_PAIR_REQUIRED",
	ERR_NO_ADDITIONAL_SAS:            "NO_ADDITIONAL_SAS",
	ERR_INTERNAL_ADDRESS_FAILURE:     "INTERNAL_ADDRESS_FAILURE",
	ERR_FAILED_CP_REQUIRED:           "FAILED_CP_REQUIRED",
	ERR_TS_UNACCEPTABLE:              "TS_UNACCEPTABLE",
	ERR_INVALID_SELECTORS:            "INVALID_SELECTORS",
	ERR_TEMPORARY_FAILURE:            "TEMPORARY_FAILURE",
	ERR_CHILD_SA_NOT_FOUND:           "CHILD_SA_NOT_FOUND",
}

func (e IkeErrorCode) Error() string {
	if s, ok := errorNames[e]; ok {
		return s
	}
	return fmt.Sprintf("IkeErrorCode(%d)", uint16(e))
}

// NotificationType is the numeric value carried in a Notify payload;
// values below 16384 are errors, values at or above are status/state.
type NotificationType uint16

const (
	// Error types
	UNSUPPORTED_CRITICAL_PAYLOAD NotificationType = 1
	INVALID_IKE_SPI              NotificationType = 4
	INVALID_MAJOR_VERSION        NotificationType = 5
	INVALID_SYNTAX               NotificationType = 7
	INVALID_MESSAGE_ID           NotificationType = 9
	INVALID_SPI                  NotificationType = 11
	NO_PROPOSAL_CHOSEN           NotificationType = 14
	INVALID_KE_PAYLOAD           NotificationType = 17
	AUTHENTICATION_FAILED        NotificationType = 24
	SINGLE_PAIR_REQUIRED         NotificationType = 34
	NO_ADDITIONAL_SAS            NotificationType = 35
	INTERNAL_ADDRESS_FAILURE     NotificationType = 36
	FAILED_CP_REQUIRED           NotificationType = 37
	TS_UNACCEPTABLE              NotificationType = 38
	INVALID_SELECTORS            NotificationType = 39
	TEMPORARY_FAILURE            NotificationType = 43
	CHILD_SA_NOT_FOUND           NotificationType = 44

	// Status types
	INITIAL_CONTACT                     NotificationType = 16384
	SET_WINDOW_SIZE                     NotificationType = 16385
	ADDITIONAL_TS_POSSIBLE              NotificationType = 16386
	IPCOMP_SUPPORTED                    NotificationType = 16387
	NAT_DETECTION_SOURCE_IP             NotificationType = 16388
	NAT_DETECTION_DESTINATION_IP        NotificationType = 16389
	COOKIE                              NotificationType = 16390
	USE_TRANSPORT_MODE                  NotificationType = 16391
	HTTP_CERT_LOOKUP_SUPPORTED          NotificationType = 16392
	REKEY_SA                            NotificationType = 16393
	ESP_TFC_PADDING_NOT_SUPPORTED       NotificationType = 16394
	NON_FIRST_FRAGMENTS_ALSO            NotificationType = 16395
	MOBIKE_SUPPORTED                    NotificationType = 16396
	ADDITIONAL_IP4_ADDRESS              NotificationType = 16397
	ADDITIONAL_IP6_ADDRESS              NotificationType = 16398
	NO_ADDITIONAL_ADDRESSES             NotificationType = 16399
	UPDATE_SA_ADDRESSES                 NotificationType = 16400
	COOKIE2                             NotificationType = 16401
	NO_NATS_ALLOWED                     NotificationType = 16402
	AUTH_LIFETIME                       NotificationType = 16403
	MULTIPLE_AUTH_SUPPORTED             NotificationType = 16404
	ANOTHER_AUTH_FOLLOWS                NotificationType = 16405
	REDIRECT_SUPPORTED                  NotificationType = 16406
	REDIRECT                            NotificationType = 16407
	REDIRECTED_FROM                     NotificationType = 16408
	TICKET_LT_OPAQUE                    NotificationType = 16409
	TICKET_REQUEST                      NotificationType = 16410
	TICKET_ACK                          NotificationType = 16411
	TICKET_NACK                         NotificationType = 16412
	TICKET_OPAQUE                       NotificationType = 16413
	LINK_ID                             NotificationType = 16414
	USE_WESP_MODE                       NotificationType = 16415
	ROHC_SUPPORTED                      NotificationType = 16416
	EAP_ONLY_AUTHENTICATION             NotificationType = 16417
	CHILDLESS_IKEV2_SUPPORTED           NotificationType = 16418
	QUICK_CRASH_DETECTION               NotificationType = 16419
	IKEV2_MESSAGE_ID_SYNC_SUPPORTED     NotificationType = 16420
	IPSEC_REPLAY_COUNTER_SYNC_SUPPORTED NotificationType = 16421
	IKEV2_FRAGMENTATION_SUPPORTED       NotificationType = 16430
	SIGNATURE_HASH_ALGORITHMS           NotificationType = 16431
	USE_PPK                             NotificationType = 16434 // [RFC8784]
	PPK_IDENTITY                        NotificationType = 16435 // [RFC8784]
	NO_PPK_AUTH                         NotificationType = 16436 // [RFC8784]
	INTERMEDIATE_EXCHANGE_SUPPORTED     NotificationType = 16437 // [RFC9242]
)

func GetIkeErrorCode(nt NotificationType) (IkeErrorCode, bool) {
	switch nt {
	case UNSUPPORTED_CRITICAL_PAYLOAD:
		return ERR_UNSUPPORTED_CRITICAL_PAYLOAD, true
	case INVALID_IKE_SPI:
		return ERR_INVALID_IKE_SPI, true
	case INVALID_MAJOR_VERSION:
		return ERR_INVALID_MAJOR_VERSION, true
	case INVALID_SYNTAX:
		return ERR_INVALID_SYNTAX, true
	case INVALID_MESSAGE_ID:
		return ERR_INVALID_MESSAGE_ID, true
	case INVALID_SPI:
		return ERR_INVALID_SPI, true
	case NO_PROPOSAL_CHOSEN:
		return ERR_NO_PROPOSAL_CHOSEN, true
	case INVALID_KE_PAYLOAD:
		return ERR_INVALID_KE_PAYLOAD, true
	case AUTHENTICATION_FAILED:
		return ERR_AUTHENTICATION_FAILED, true
	case SINGLE_PAIR_REQUIRED:
		return ERR_SINGLE_PAIR_REQUIRED, true
	case NO_ADDITIONAL_SAS:
		return ERR_NO_ADDITIONAL_SAS, true
	case INTERNAL_ADDRESS_FAILURE:
		return ERR_INTERNAL_ADDRESS_FAILURE, true
	case FAILED_CP_REQUIRED:
		return ERR_FAILED_CP_REQUIRED, true
	case TS_UNACCEPTABLE:
		return ERR_TS_UNACCEPTABLE, true
	case INVALID_SELECTORS:
		return ERR_INVALID_SELECTORS, true
	case TEMPORARY_FAILURE:
		return ERR_TEMPORARY_FAILURE, true
	case CHILD_SA_NOT_FOUND:
		return ERR_CHILD_SA_NOT_FOUND, true
	default:
		return 0, false
	}
}
