// Package schedule resolves declarative schedule specifications into concrete
// fire times.
//
// Two spec forms are accepted: standard five-field cron expressions
// ("0 9 * * 1-5", with lists, ranges and step values) and a sparse dict form
// (Fields) where omitted fields mean "every" and day_of_week understands
// weekday names. Descriptor expressions ("@hourly", "@every 30m") are parsed
// with robfig/cron and satisfy the same Schedule interface.
//
// Fire times are minute-aligned: Next never returns an instant with a
// non-zero seconds component, and the result is always strictly after the
// instant passed in. Day-of-month and day-of-week follow the POSIX rule of
// being OR'ed together when both are restricted.
package schedule
