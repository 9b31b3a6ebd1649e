// Package parse turns free-text schedule export fields into structured values.
//
// The parsers are pure functions. They never default silently: input that does
// not match the expected shape is rejected with an *Error whose Kind names the
// field family and whose Raw holds the original text.
//
//   - ParseTime / FormatTime: "9am", "2:15pm" to minutes since midnight and back.
//   - ParseName: "Dr. Jane Q. Public" or "Public, Jane Q." to a Name.
//   - RoleClassifier: job title keywords to role tags.
//   - ParseInstructor: "Dragoo, Sheri (892564540) [Primary, 100%]".
//   - ParseMeetingPatterns: "MWF 9:05am-9:55am; S 2pm-4pm".
package parse
