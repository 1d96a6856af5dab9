// Package bus connects the gateway to its message broker.
//
// The production adapter targets RabbitMQ (AMQP 0-9-1) via
// github.com/rabbitmq/amqp091-go with durable, length-capped queues and
// manual acknowledgement.
package bus
