package protocol

import "fmt"

var _encrTransformIdNames = map[EncrTransformId]string{
	ENCR_DES_IV64:           "ENCR_DES_IV64",
	ENCR_DES:                "ENCR_DES",
	ENCR_3DES:               "ENCR_3DES",
	ENCR_RC5:                "ENCR_RC5",
	ENCR_IDEA:               "ENCR_IDEA",
	ENCR_CAST:               "ENCR_CAST",
	ENCR_BLOWFISH:           "ENCR_BLOWFISH",
	ENCR_3IDEA:              "ENCR_3IDEA",
	ENCR_DES_IV32:           "ENCR_DES_IV32",
	ENCR_NULL:               "ENCR_NULL",
	ENCR_AES_CBC:            "ENCR_AES_CBC",
	ENCR_AES_CTR:            "ENCR_AES_CTR",
	ENCR_AES_CCM_8:          "ENCR_AES_CCM_8",
	AEAD_AES_GCM_8:          "AEAD_AES_GCM_8",
	AEAD_AES_GCM_12:         "AEAD_AES_GCM_12",
	AEAD_AES_GCM_16:         "AEAD_AES_GCM_16",
	ENCR_NULL_AUTH_AES_GMAC: "ENCR_NULL_AUTH_AES_GMAC",
	ENCR_CAMELLIA_CBC:       "ENCR_CAMELLIA_CBC",
	ENCR_CAMELLIA_CTR:       "ENCR_CAMELLIA_CTR",
	ENCR_CHACHA20_POLY1305:  "ENCR_CHACHA20_POLY1305",
}

func (i EncrTransformId) String() string {
	if s, ok := _encrTransformIdNames[i]; ok {
		return s
	}
	return fmt.Sprintf("EncrTransformId(%d)", uint16(i))
}

var _prfTransformIdNames = map[PrfTransformId]string{
	PRF_HMAC_MD5:      "PRF_HMAC_MD5",
	PRF_HMAC_SHA1:     "PRF_HMAC_SHA1",
	PRF_HMAC_TIGER:    "PRF_HMAC_TIGER",
	PRF_AES128_XCBC:   "PRF_AES128_XCBC",
	PRF_HMAC_SHA2_256: "PRF_HMAC_SHA2_256",
	PRF_HMAC_SHA2_384: "PRF_HMAC_SHA2_384",
	PRF_HMAC_SHA2_512: "PRF_HMAC_SHA2_512",
	PRF_AES128_CMAC:   "PRF_AES128_CMAC",
}

func (i PrfTransformId) String() string {
	if s, ok := _prfTransformIdNames[i]; ok {
		return s
	}
	return fmt.Sprintf("PrfTransformId(%d)", uint16(i))
}

var _authTransformIdNames = map[AuthTransformId]string{
	AUTH_NONE:              "AUTH_NONE",
	AUTH_HMAC_MD5_96:       "AUTH_HMAC_MD5_96",
	AUTH_HMAC_SHA1_96:      "AUTH_HMAC_SHA1_96",
	AUTH_DES_MAC:           "AUTH_DES_MAC",
	AUTH_KPDK_MD5:          "AUTH_KPDK_MD5",
	AUTH_AES_XCBC_96:       "AUTH_AES_XCBC_96",
	AUTH_HMAC_SHA2_256_128: "AUTH_HMAC_SHA2_256_128",
	AUTH_HMAC_SHA2_384_192: "AUTH_HMAC_SHA2_384_192",
	AUTH_HMAC_SHA2_512_256: "AUTH_HMAC_SHA2_512_256",
}

func (i AuthTransformId) String() string {
	if s, ok := _authTransformIdNames[i]; ok {
		return s
	}
	return fmt.Sprintf("AuthTransformId(%d)", uint16(i))
}

var _dhTransformIdNames = map[DhTransformId]string{
	MODP_NONE:       "MODP_NONE",
	MODP_768:        "MODP_768",
	MODP_1024:       "MODP_1024",
	MODP_1536:       "MODP_1536",
	MODP_2048:       "MODP_2048",
	MODP_3072:       "MODP_3072",
	MODP_4096:       "MODP_4096",
	MODP_6144:       "MODP_6144",
	MODP_8192:       "MODP_8192",
	ECP_256:         "ECP_256",
	ECP_384:         "ECP_384",
	ECP_521:         "ECP_521",
	ECP_192:         "ECP_192",
	ECP_224:         "ECP_224",
	BRAINPOOLP224R1: "BRAINPOOLP224R1",
	BRAINPOOLP256R1: "BRAINPOOLP256R1",
	BRAINPOOLP384R1: "BRAINPOOLP384R1",
	BRAINPOOLP512R1: "BRAINPOOLP512R1",
}

func (i DhTransformId) String() string {
	if s, ok := _dhTransformIdNames[i]; ok {
		return s
	}
	return fmt.Sprintf("DhTransformId(%d)", uint16(i))
}

var _esnTransformIdNames = map[EsnTransformId]string{
	ESN_NONE: "ESN_NONE",
	ESN:      "ESN",
}

func (i EsnTransformId) String() string {
	if s, ok := _esnTransformIdNames[i]; ok {
		return s
	}
	return fmt.Sprintf("EsnTransformId(%d)", uint16(i))
}

var _idTypeNames = map[IdType]string{
	ID_IPV4_ADDR:   "ID_IPV4_ADDR",
	ID_FQDN:        "ID_FQDN",
	ID_RFC822_ADDR: "ID_RFC822_ADDR",
	ID_IPV6_ADDR:   "ID_IPV6_ADDR",
	ID_DER_ASN1_DN: "ID_DER_ASN1_DN",
	ID_DER_ASN1_GN: "ID_DER_ASN1_GN",
	ID_KEY_ID:      "ID_KEY_ID",
	ID_NULL:        "ID_NULL",
}

func (i IdType) String() string {
	if s, ok := _idTypeNames[i]; ok {
		return s
	}
	return fmt.Sprintf("IdType(%d)", uint8(i))
}

var _ikeExchangeTypeNames = map[IkeExchangeType]string{
	IKE_SA_INIT:        "IKE_SA_INIT",
	IKE_AUTH:           "IKE_AUTH",
	CREATE_CHILD_SA:    "CREATE_CHILD_SA",
	INFORMATIONAL:      "INFORMATIONAL",
	IKE_SESSION_RESUME: "IKE_SESSION_RESUME",
	IKE_INTERMEDIATE:   "IKE_INTERMEDIATE",
}

func (i IkeExchangeType) String() string {
	if s, ok := _ikeExchangeTypeNames[i]; ok {
		return s
	}
	return fmt.Sprintf("IkeExchangeType(%d)", uint16(i))
}

var _notificationTypeNames = map[NotificationType]string{
	UNSUPPORTED_CRITICAL_PAYLOAD:        "UNSUPPORTED_CRITICAL_PAYLOAD",
	INVALID_IKE_SPI:                     "INVALID_IKE_SPI",
	INVALID_MAJOR_VERSION:               "INVALID_MAJOR_VERSION",
	INVALID_SYNTAX:                      "INVALID_SYNTAX",
	INVALID_MESSAGE_ID:                  "INVALID_MESSAGE_ID",
	INVALID_SPI:                         "INVALID_SPI",
	NO_PROPOSAL_CHOSEN:                  "NO_PROPOSAL_CHOSEN",
	INVALID_KE_PAYLOAD:                  "INVALID_KE_PAYLOAD",
	AUTHENTICATION_FAILED:               "AUTHENTICATION_FAILED",
	SINGLE_PAIR_REQUIRED:                "SINGLE_PAIR_REQUIRED",
	NO_ADDITIONAL_SAS:                   "NO_ADDITIONAL_SAS",
	INTERNAL_ADDRESS_FAILURE:            "INTERNAL_ADDRESS_FAILURE",
	FAILED_CP_REQUIRED:                  "FAILED_CP_REQUIRED",
	TS_UNACCEPTABLE:                     "TS_UNACCEPTABLE",
	INVALID_SELECTORS:                   "INVALID_SELECTORS",
	TEMPORARY_FAILURE:                   "TEMPORARY_FAILURE",
	CHILD_SA_NOT_FOUND:                  "CHILD_SA_NOT_FOUND",
	INITIAL_CONTACT:                     "INITIAL_CONTACT",
	SET_WINDOW_SIZE:                     "SET_WINDOW_SIZE",
	ADDITIONAL_TS_POSSIBLE:              "ADDITIONAL_TS_POSSIBLE",
	IPCOMP_SUPPORTED:                    "IPCOMP_SUPPORTED",
	NAT_DETECTION_SOURCE_IP:             "NAT_DETECTION_SOURCE_IP",
	NAT_DETECTION_DESTINATION_IP:        "NAT_DETECTION_DESTINATION_IP",
	COOKIE:                              "COOKIE",
	USE_TRANSPORT_MODE:                  "USE_TRANSPORT_MODE",
	HTTP_CERT_LOOKUP_SUPPORTED:          "HTTP_CERT_LOOKUP_SUPPORTED",
	REKEY_SA:                            "REKEY_SA",
	ESP_TFC_PADDING_NOT_SUPPORTED:       "ESP_TFC_PADDING_NOT_SUPPORTED",
	NON_FIRST_FRAGMENTS_ALSO:            "NON_FIRST_FRAGMENTS_ALSO",
	MOBIKE_SUPPORTED:                    "MOBIKE_SUPPORTED",
	ADDITIONAL_IP4_ADDRESS:              "ADDITIONAL_IP4_ADDRESS",
	ADDITIONAL_IP6_ADDRESS:              "ADDITIONAL_IP6_ADDRESS",
	NO_ADDITIONAL_ADDRESSES:             "NO_ADDITIONAL_ADDRESSES",
	UPDATE_SA_ADDRESSES:                 "UPDATE_SA_ADDRESSES",
	COOKIE2:                             "COOKIE2",
	NO_NATS_ALLOWED:                     "NO_NATS_ALLOWED",
	AUTH_LIFETIME:                       "AUTH_LIFETIME",
	MULTIPLE_AUTH_SUPPORTED:             "MULTIPLE_AUTH_SUPPORTED",
	ANOTHER_AUTH_FOLLOWS:                "ANOTHER_AUTH_FOLLOWS",
	REDIRECT_SUPPORTED:                  "REDIRECT_SUPPORTED",
	REDIRECT:                            "REDIRECT",
	REDIRECTED_FROM:                     "REDIRECTED_FROM",
	TICKET_LT_OPAQUE:                    "TICKET_LT_OPAQUE",
	TICKET_REQUEST:                      "TICKET_REQUEST",
	TICKET_ACK:                          "TICKET_ACK",
	TICKET_NACK:                         "TICKET_NACK",
	TICKET_OPAQUE:                       "TICKET_OPAQUE",
	LINK_ID:                             "LINK_ID",
	USE_WESP_MODE:                       "USE_WESP_MODE",
	ROHC_SUPPORTED:                      "ROHC_SUPPORTED",
	EAP_ONLY_AUTHENTICATION:             "EAP_ONLY_AUTHENTICATION",
	CHILDLESS_IKEV2_SUPPORTED:           "CHILDLESS_IKEV2_SUPPORTED",
	QUICK_CRASH_DETECTION:               "QUICK_CRASH_DETECTION",
	IKEV2_MESSAGE_ID_SYNC_SUPPORTED:     "IKEV2_MESSAGE_ID_SYNC_SUPPORTED",
	IPSEC_REPLAY_COUNTER_SYNC_SUPPORTED: "IPSEC_REPLAY_COUNTER_SYNC_SUPPORTED",
	IKEV2_FRAGMENTATION_SUPPORTED:       "IKEV2_FRAGMENTATION_SUPPORTED",
	SIGNATURE_HASH_ALGORITHMS:           "SIGNATURE_HASH_ALGORITHMS",
	USE_PPK:                             "USE_PPK",
	PPK_IDENTITY:                        "PPK_IDENTITY",
	NO_PPK_AUTH:                         "NO_PPK_AUTH",
	INTERMEDIATE_EXCHANGE_SUPPORTED:     "INTERMEDIATE_EXCHANGE_SUPPORTED",
}

func (i NotificationType) String() string {
	if s, ok := _notificationTypeNames[i]; ok {
		return s
	}
	return fmt.Sprintf("NotificationType(%d)", uint16(i))
}

var _authMethodNames = map[AuthMethod]string{
	RSA_DIGITAL_SIGNATURE:             "RSA_DIGITAL_SIGNATURE",
	SHARED_KEY_MESSAGE_INTEGRITY_CODE: "SHARED_KEY_MESSAGE_INTEGRITY_CODE",
	DSS_DIGITAL_SIGNATURE:             "DSS_DIGITAL_SIGNATURE",
	AUTH_DIGITAL_SIGNATURE:            "AUTH_DIGITAL_SIGNATURE",
}

func (i AuthMethod) String() string {
	if s, ok := _authMethodNames[i]; ok {
		return s
	}
	return fmt.Sprintf("AuthMethod(%d)", uint8(i))
}

var _payloadTypeNames = map[PayloadType]string{
	PayloadTypeNone:    "NONE",
	PayloadTypeSA:      "SA",
	PayloadTypeKE:      "KE",
	PayloadTypeIDi:     "IDi",
	PayloadTypeIDr:     "IDr",
	PayloadTypeCERT:    "CERT",
	PayloadTypeCERTREQ: "CERTREQ",
	PayloadTypeAUTH:    "AUTH",
	PayloadTypeNonce:   "Nonce",
	PayloadTypeN:       "N",
	PayloadTypeD:       "D",
	PayloadTypeV:       "V",
	PayloadTypeTSi:     "TSi",
	PayloadTypeTSr:     "TSr",
	PayloadTypeSK:      "SK",
	PayloadTypeCP:      "CP",
	PayloadTypeEAP:     "EAP",
	PayloadTypeSKF:     "SKF",
}

func (i PayloadType) String() string {
	if s, ok := _payloadTypeNames[i]; ok {
		return s
	}
	return fmt.Sprintf("PayloadType(%d)", uint8(i))
}

var _protocolIdNames = map[ProtocolId]string{
	IKE: "IKE",
	AH:  "AH",
	ESP: "ESP",
}

func (i ProtocolId) String() string {
	if s, ok := _protocolIdNames[i]; ok {
		return s
	}
	return fmt.Sprintf("ProtocolId(%d)", uint8(i))
}
