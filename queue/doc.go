// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package queue provides the building blocks shared by message queue
// processing services.
//
// A [Processor] holds the business logic applied to each message. Cross-cutting
// behaviour such as logging, validation or enrichment is layered on with
// [Middleware], composed once with [Chain]:
//
//	handler := queue.Chain(
//	    queue.ProcessorFunc[kafka.Message](handleOrder),
//	    logMessages,
//	    rejectUnknownVersions,
//	)
//
// A [QueueRuntime] coordinates consuming, processing and committing messages.
// It is wrapped into an application with [Build] and executed with [Run],
// which takes care of signal handling and error logging:
//
//	func main() {
//	    builder := queue.Build(kafka.Build(kafka.ConfigFromEnv(), handler))
//	    queue.Run(context.Background(), builder)
//	}
package queue
