// Package domain models the autosat beacon wire protocol and the pure
// transformations the live map applies to it.
//
// # Data Source
//
// Pings originate from field beacons (handheld autosat units). Each unit
// reports its GPS fix together with a short yes/no questionnaire the holder
// answered on the device. The gateway relays every report verbatim to feed
// subscribers as a single JSON text message.
//
// # Wire Conventions
//
// Ping message:
//
//	{"deviceId": "autosat-01", "ts": "2026-08-23T14:07:02+00:00",
//	 "lat": 43.7315, "lon": -79.7624, "mode": "SOS", "pdop": 2.9,
//	 "answers": [{"q": "Are you hurt?", "a": "yes"}, ...]}
//
// Field notes:
//
//	deviceId  opaque stable unit identifier; not guaranteed present.
//	ts        ISO-8601 / RFC 3339 timestamp set by the device clock. This is
//	          the ordering and display source of truth, so a message whose
//	          ts does not parse is classified malformed rather than patched.
//	lat, lon  WGS-84 degrees, floating point.
//	mode      "SOS" or "OK". Only the exact "SOS" token marks distress;
//	          anything else (including future tokens) reads as normal.
//	pdop      position dilution of precision, lower is better. Display only.
//	answers   free-form question/answer list. Devices in the field have sent
//	          numbers, nulls, and bare values here, so the list is carried
//	          raw and only interpreted by NormalizeAnswers, which never
//	          fails.
//
// Control message:
//
//	{"type": "hello"}
//
// Sent once by the gateway when a subscriber connects. Carries no data and
// must not reach the history.
//
// Anything that is not valid JSON, not a JSON object, or lacks a parseable
// ts is malformed: dropped by the ingestion layer, logged, never fatal.
//
// # Identity
//
// (deviceId, ts) is a best-effort display identity. Gateways may resend a
// ping verbatim, so the pair is not unique; store insertion order is the
// only hard identity and duplicate resends render as independent markers.
//
// # Questionnaire Normalization
//
// The in_danger/injured/alone/threat_active row sets mirror the operator
// console's triage card. Keys and values are compared after trimming and
// lower-casing; a device answering "Yes"/"YES"/" yes " all read as "yes".
// Absent keys render as the literal "unknown". See [NormalizeAnswers].
package domain
